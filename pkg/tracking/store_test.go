package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

// Both implementations must satisfy the same behavior, so each test runs
// against both.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(zap.NewNop()),
		"redis":  NewRedisStore(client, time.Hour, zap.NewNop()),
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			req, err := store.Register(ctx, uuid.Nil)
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, req.TrackID)
			assert.Equal(t, models.TrackStatusProcessing, req.Status)

			registered := req.Timestamp
			time.Sleep(5 * time.Millisecond)

			require.NoError(t, store.Update(ctx, req.TrackID, models.TrackStatusCompleted, "final answer", ""))

			got, err := store.Get(ctx, req.TrackID)
			require.NoError(t, err)
			assert.Equal(t, models.TrackStatusCompleted, got.Status)
			assert.Equal(t, "final answer", got.Response)
			assert.Empty(t, got.Error)
			assert.True(t, got.Timestamp.After(registered), "update must refresh the timestamp")
		})
	}
}

func TestStore_RegisterReusesSuppliedID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			supplied := uuid.New()

			req, err := store.Register(ctx, supplied)
			require.NoError(t, err)
			assert.Equal(t, supplied, req.TrackID)

			got, err := store.Get(ctx, supplied)
			require.NoError(t, err)
			assert.Equal(t, models.TrackStatusProcessing, got.Status)
		})
	}
}

func TestStore_FailedRequestKeepsError(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			req, err := store.Register(ctx, uuid.Nil)
			require.NoError(t, err)
			require.NoError(t, store.Update(ctx, req.TrackID, models.TrackStatusFailed, "", "llm exhausted retries"))

			got, err := store.Get(ctx, req.TrackID)
			require.NoError(t, err)
			assert.Equal(t, models.TrackStatusFailed, got.Status)
			assert.Equal(t, "llm exhausted retries", got.Error)
			assert.Empty(t, got.Response)
		})
	}
}

func TestStore_GetUnknownID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_UpdateUnknownIDIsNoOp(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(context.Background(), uuid.New(), models.TrackStatusCompleted, "x", "")
			assert.NoError(t, err)
		})
	}
}

func TestStore_Sweep(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.Register(ctx, uuid.Nil)
			require.NoError(t, err)
			second, err := store.Register(ctx, uuid.Nil)
			require.NoError(t, err)

			// maxAge 0 makes everything already written stale.
			removed, err := store.Sweep(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, err = store.Get(ctx, first.TrackID)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
			_, err = store.Get(ctx, second.TrackID)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_SweepKeepsFreshEntries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			req, err := store.Register(ctx, uuid.Nil)
			require.NoError(t, err)

			removed, err := store.Sweep(ctx, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 0, removed)

			_, err = store.Get(ctx, req.TrackID)
			assert.NoError(t, err)
		})
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	req, err := store.Register(ctx, uuid.Nil)
	require.NoError(t, err)

	got, err := store.Get(ctx, req.TrackID)
	require.NoError(t, err)
	got.Response = "mutated by caller"

	again, err := store.Get(ctx, req.TrackID)
	require.NoError(t, err)
	assert.Empty(t, again.Response)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := store.Register(ctx, uuid.Nil)
			assert.NoError(t, err)
			assert.NoError(t, store.Update(ctx, req.TrackID, models.TrackStatusCompleted, "done", ""))
			_, err = store.Get(ctx, req.TrackID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
