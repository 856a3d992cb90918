// Package tracking records the lifecycle of asynchronous webhook requests
// so callers can poll for their outcome.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

// Store tracks asynchronous request state. Implementations must be safe
// for concurrent use.
type Store interface {
	// Register creates a new entry in the processing state and returns it.
	// A non-nil trackID is reused so callers can carry their own correlation
	// id; uuid.Nil means generate one.
	Register(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error)

	// Update transitions an entry to its terminal status with the final
	// response or error text. Updating an unknown id is a no-op.
	Update(ctx context.Context, trackID uuid.UUID, status models.TrackStatus, response, errText string) error

	// Get returns the entry for trackID, or apperrors.ErrNotFound.
	Get(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error)

	// Sweep removes entries older than maxAge and returns how many were
	// removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// MemoryStore is the default in-process Store. State does not survive a
// restart; deployments needing durability use RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.TrackedRequest
	logger   *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		requests: map[uuid.UUID]*models.TrackedRequest{},
		logger:   logger.Named("tracking"),
	}
}

func (s *MemoryStore) Register(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	if trackID == uuid.Nil {
		trackID = uuid.New()
	}
	req := &models.TrackedRequest{
		TrackID:   trackID,
		Status:    models.TrackStatusProcessing,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.requests[req.TrackID] = req
	s.mu.Unlock()

	s.logger.Debug("Registered request", zap.String("track_id", req.TrackID.String()))
	return copyRequest(req), nil
}

func (s *MemoryStore) Update(ctx context.Context, trackID uuid.UUID, status models.TrackStatus, response, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[trackID]
	if !ok {
		s.logger.Warn("Update for unknown track id", zap.String("track_id", trackID.String()))
		return nil
	}

	req.Status = status
	req.Timestamp = time.Now().UTC()
	req.Response = response
	req.Error = errText
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[trackID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, req := range s.requests {
		if req.Timestamp.Before(cutoff) {
			delete(s.requests, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Swept stale tracked requests", zap.Int("removed", removed))
	}
	return removed, nil
}

// copyRequest shields internal state from caller mutation.
func copyRequest(req *models.TrackedRequest) *models.TrackedRequest {
	c := *req
	return &c
}
