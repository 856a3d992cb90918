package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/tracking"
	"github.com/convoflow/convoflow-engine/pkg/workflow"
)

type fakeEngine struct {
	mu         sync.Mutex
	runErr     error
	response   string
	topologies []workflow.Topology
}

func (f *fakeEngine) Run(ctx context.Context, topology workflow.Topology, state *workflow.ConversationState) (*workflow.ConversationState, error) {
	f.mu.Lock()
	f.topologies = append(f.topologies, topology)
	f.mu.Unlock()

	if f.runErr != nil {
		return nil, f.runErr
	}
	state.Response = f.response
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}
	state.Metadata["postprocessed"] = true
	return state, nil
}

func (f *fakeEngine) lastTopology() workflow.Topology {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topologies[len(f.topologies)-1]
}

type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []any
	urls     []string
	done     chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 8)}
}

func (f *fakeDispatcher) Deliver(ctx context.Context, callbackURL string, payload any) bool {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.urls = append(f.urls, callbackURL)
	f.mu.Unlock()
	f.done <- struct{}{}
	return true
}

func (f *fakeDispatcher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was never called")
	}
}

func newChatService(engine *fakeEngine, dispatcher *fakeDispatcher) (*ChatService, tracking.Store) {
	tracker := tracking.NewMemoryStore(zap.NewNop())
	return NewChatService(engine, tracker, dispatcher, zap.NewNop()), tracker
}

func TestChat_SessionlessUsesMinimalTopology(t *testing.T) {
	engine := &fakeEngine{response: "Hi"}
	svc, _ := newChatService(engine, newFakeDispatcher())

	resp, err := svc.Chat(context.Background(), &ChatRequest{Message: "Hello"})
	require.NoError(t, err)

	assert.Equal(t, "Hi", resp.Response)
	assert.Equal(t, workflow.TopologyMinimal, engine.lastTopology())
	assert.Equal(t, uuid.Nil, resp.SessionID)
}

func TestChat_SessionUsesEnhancedTopology(t *testing.T) {
	engine := &fakeEngine{response: "Hi"}
	svc, _ := newChatService(engine, newFakeDispatcher())
	sessionID := uuid.New()

	resp, err := svc.Chat(context.Background(), &ChatRequest{Message: "Hello", SessionID: sessionID})
	require.NoError(t, err)

	assert.Equal(t, workflow.TopologyEnhanced, engine.lastTopology())
	assert.Equal(t, sessionID, resp.SessionID)
}

func TestChat_EngineErrorPropagates(t *testing.T) {
	engine := &fakeEngine{runErr: errors.New("workflow node generate: exhausted")}
	svc, _ := newChatService(engine, newFakeDispatcher())

	_, err := svc.Chat(context.Background(), &ChatRequest{Message: "Hello"})
	assert.Error(t, err)
}

func TestEnqueueWebhook_CompletedFlow(t *testing.T) {
	engine := &fakeEngine{response: "final answer"}
	dispatcher := newFakeDispatcher()
	svc, tracker := newChatService(engine, dispatcher)

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusProcessing, tracked.Status)

	dispatcher.wait(t)

	got, err := tracker.Get(context.Background(), tracked.TrackID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusCompleted, got.Status)
	assert.Equal(t, "final answer", got.Response)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, "https://example.test/callback", dispatcher.urls[0])
	payload, ok := dispatcher.payloads[0].(webhookPayload)
	require.True(t, ok)
	assert.Equal(t, tracked.TrackID, payload.TrackID)
	assert.Equal(t, models.TrackStatusCompleted, payload.Status)
	assert.Equal(t, "final answer", payload.Response)
}

func TestEnqueueWebhook_FailedFlow(t *testing.T) {
	engine := &fakeEngine{runErr: errors.New("workflow node generate: exhausted retries")}
	dispatcher := newFakeDispatcher()
	svc, tracker := newChatService(engine, dispatcher)

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/callback",
	})
	require.NoError(t, err)

	dispatcher.wait(t)

	got, err := tracker.Get(context.Background(), tracked.TrackID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusFailed, got.Status)
	assert.Contains(t, got.Error, "exhausted retries")
	assert.Empty(t, got.Response)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	payload := dispatcher.payloads[0].(webhookPayload)
	assert.Equal(t, models.TrackStatusFailed, payload.Status)
}

func TestEnqueueWebhook_NoCallbackURLStillTracked(t *testing.T) {
	engine := &fakeEngine{response: "done"}
	dispatcher := newFakeDispatcher()
	svc, tracker := newChatService(engine, dispatcher)

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{Message: "Hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := tracker.Get(context.Background(), tracked.TrackID)
		return err == nil && got.Status == models.TrackStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Empty(t, dispatcher.payloads, "no callback URL means no delivery")
}

func TestWebhookStatus(t *testing.T) {
	svc, tracker := newChatService(&fakeEngine{response: "x"}, newFakeDispatcher())

	reg, err := tracker.Register(context.Background(), uuid.Nil)
	require.NoError(t, err)

	got, err := svc.WebhookStatus(context.Background(), reg.TrackID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusProcessing, got.Status)

	_, err = svc.WebhookStatus(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestEnqueueWebhook_TrackIDInMetadata(t *testing.T) {
	var gotMetadata map[string]any
	engine := &fakeEngine{response: "x"}
	dispatcher := newFakeDispatcher()

	tracker := tracking.NewMemoryStore(zap.NewNop())
	recorder := &metadataRecordingEngine{inner: engine, record: func(m map[string]any) { gotMetadata = m }}
	svc := NewChatService(recorder, tracker, dispatcher, zap.NewNop())

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/cb",
		Metadata:    map[string]any{"caller": "test"},
	})
	require.NoError(t, err)
	dispatcher.wait(t)

	assert.Equal(t, tracked.TrackID.String(), gotMetadata["track_id"])
	assert.Equal(t, "test", gotMetadata["caller"])
}

type metadataRecordingEngine struct {
	inner  *fakeEngine
	record func(map[string]any)
}

func (m *metadataRecordingEngine) Run(ctx context.Context, topology workflow.Topology, state *workflow.ConversationState) (*workflow.ConversationState, error) {
	m.record(state.Metadata)
	return m.inner.Run(ctx, topology, state)
}

func TestEnqueueWebhook_ReusesSuppliedTrackID(t *testing.T) {
	engine := &fakeEngine{response: "done"}
	dispatcher := newFakeDispatcher()
	svc, tracker := newChatService(engine, dispatcher)

	supplied := uuid.New()
	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/cb",
		Metadata:    map[string]any{"track_id": supplied.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, supplied, tracked.TrackID)

	dispatcher.wait(t)

	got, err := tracker.Get(context.Background(), supplied)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusCompleted, got.Status)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	payload := dispatcher.payloads[0].(webhookPayload)
	assert.Equal(t, supplied, payload.TrackID)
}

func TestEnqueueWebhook_UnparseableTrackIDGetsFreshID(t *testing.T) {
	engine := &fakeEngine{response: "done"}
	dispatcher := newFakeDispatcher()
	svc, _ := newChatService(engine, dispatcher)

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/cb",
		Metadata:    map[string]any{"track_id": "not-a-uuid"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tracked.TrackID)

	dispatcher.wait(t)
}

// blockingEngine holds the run until its context expires, simulating a
// workflow that consumes the whole run deadline.
type blockingEngine struct{}

func (b *blockingEngine) Run(ctx context.Context, topology workflow.Topology, state *workflow.ConversationState) (*workflow.ConversationState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnqueueWebhook_TerminalUpdateSurvivesRunDeadline(t *testing.T) {
	dispatcher := newFakeDispatcher()
	tracker := &deadlineCheckingStore{inner: tracking.NewMemoryStore(zap.NewNop())}
	svc := NewChatService(&blockingEngine{}, tracker, dispatcher, zap.NewNop())
	svc.runTimeout = 20 * time.Millisecond

	tracked, err := svc.EnqueueWebhook(context.Background(), &WebhookChatRequest{
		Message:     "Hello",
		CallbackURL: "https://example.test/cb",
	})
	require.NoError(t, err)

	dispatcher.wait(t)

	got, err := tracker.Get(context.Background(), tracked.TrackID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusFailed, got.Status)
	assert.Contains(t, got.Error, "deadline")

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.payloads, 1, "callback must still be attempted")
	payload := dispatcher.payloads[0].(webhookPayload)
	assert.Equal(t, models.TrackStatusFailed, payload.Status)
}

// deadlineCheckingStore refuses work under an expired context, the way a
// network-backed store would.
type deadlineCheckingStore struct {
	inner *tracking.MemoryStore
}

func (d *deadlineCheckingStore) Register(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.inner.Register(ctx, trackID)
}

func (d *deadlineCheckingStore) Update(ctx context.Context, trackID uuid.UUID, status models.TrackStatus, response, errText string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(ctx, trackID, status, response, errText)
}

func (d *deadlineCheckingStore) Get(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.inner.Get(ctx, trackID)
}

func (d *deadlineCheckingStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.inner.Sweep(ctx, maxAge)
}
