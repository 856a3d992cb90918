package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

const redisKeyPrefix = "tracking:"

// RedisStore keeps tracked requests in Redis so state survives restarts
// and is shared between instances. Entries carry a TTL as a backstop;
// Sweep removes stale entries eagerly.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. ttl bounds how long entries
// may live regardless of sweeping.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("tracking"),
	}
}

func redisKey(trackID uuid.UUID) string {
	return redisKeyPrefix + trackID.String()
}

func (s *RedisStore) Register(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	if trackID == uuid.Nil {
		trackID = uuid.New()
	}
	req := &models.TrackedRequest{
		TrackID:   trackID,
		Status:    models.TrackStatusProcessing,
		Timestamp: time.Now().UTC(),
	}

	if err := s.write(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Debug("Registered request", zap.String("track_id", req.TrackID.String()))
	return req, nil
}

func (s *RedisStore) Update(ctx context.Context, trackID uuid.UUID, status models.TrackStatus, response, errText string) error {
	req, err := s.Get(ctx, trackID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Update for unknown track id", zap.String("track_id", trackID.String()))
			return nil
		}
		return err
	}

	req.Status = status
	req.Timestamp = time.Now().UTC()
	req.Response = response
	req.Error = errText
	return s.write(ctx, req)
}

func (s *RedisStore) Get(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	data, err := s.client.Get(ctx, redisKey(trackID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tracked request: %w", err)
	}

	var req models.TrackedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode tracked request: %w", err)
	}
	return &req, nil
}

func (s *RedisStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var req models.TrackedRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Timestamp.Before(cutoff) {
			if delErr := s.client.Del(ctx, key).Err(); delErr == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan tracked requests: %w", err)
	}

	if removed > 0 {
		s.logger.Info("Swept stale tracked requests", zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *RedisStore) write(ctx context.Context, req *models.TrackedRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode tracked request: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(req.TrackID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store tracked request: %w", err)
	}
	return nil
}
