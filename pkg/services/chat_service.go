// Package services holds the orchestration layer between HTTP handlers and
// the workflow engine, repositories and tracker.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/tracking"
	"github.com/convoflow/convoflow-engine/pkg/webhook"
	"github.com/convoflow/convoflow-engine/pkg/workflow"
)

// webhookRunTimeout bounds a detached background workflow run.
const webhookRunTimeout = 5 * time.Minute

// webhookFinishTimeout bounds the terminal tracker update and callback
// delivery, which must proceed even when the run consumed its deadline.
const webhookFinishTimeout = 30 * time.Second

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID uuid.UUID      `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatResponse is the synchronous chat result.
type ChatResponse struct {
	Response   string         `json:"response"`
	SessionID  uuid.UUID      `json:"session_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	ToolCalled bool           `json:"tool_called"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WebhookChatRequest is the asynchronous chat payload. The result is
// delivered to CallbackURL and kept in the tracker.
type WebhookChatRequest struct {
	Message     string         `json:"message"`
	SessionID   uuid.UUID      `json:"session_id,omitempty"`
	CallbackURL string         `json:"callback_url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// webhookPayload is what gets POSTed to the callback URL.
type webhookPayload struct {
	TrackID   uuid.UUID          `json:"track_id"`
	Status    models.TrackStatus `json:"status"`
	Response  string             `json:"response,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Engine is the workflow surface ChatService depends on. *workflow.Engine
// is the production implementation.
type Engine interface {
	Run(ctx context.Context, topology workflow.Topology, state *workflow.ConversationState) (*workflow.ConversationState, error)
}

// Dispatcher delivers callback payloads. *webhook.Dispatcher is the
// production implementation.
type Dispatcher interface {
	Deliver(ctx context.Context, callbackURL string, payload any) bool
}

// ChatService runs conversations synchronously or as tracked background
// requests with webhook delivery.
type ChatService struct {
	engine     Engine
	tracker    tracking.Store
	dispatcher Dispatcher
	logger     *zap.Logger
	runTimeout time.Duration
}

var _ Dispatcher = (*webhook.Dispatcher)(nil)

// NewChatService creates the chat orchestration service.
func NewChatService(engine Engine, tracker tracking.Store, dispatcher Dispatcher, logger *zap.Logger) *ChatService {
	return &ChatService{
		engine:     engine,
		tracker:    tracker,
		dispatcher: dispatcher,
		logger:     logger.Named("chat"),
		runTimeout: webhookRunTimeout,
	}
}

// Chat runs one conversation turn and returns the result synchronously.
// Requests without a session run the minimal workflow; sessions get the
// full one with history and tool use.
func (s *ChatService) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	state := workflow.NewState(req.Message, req.SessionID, req.Metadata)

	result, err := s.engine.Run(ctx, s.topologyFor(req.SessionID), state)
	if err != nil {
		return nil, err
	}

	requestID, _ := result.Metadata["request_id"].(string)
	return &ChatResponse{
		Response:   result.Response,
		SessionID:  req.SessionID,
		RequestID:  requestID,
		ToolCalled: result.ShouldCallTool,
		Metadata:   result.Metadata,
	}, nil
}

// EnqueueWebhook registers a tracked request and starts a detached
// background run. The returned entry is the immediate acknowledgement;
// the final result goes to the tracker and the callback URL.
func (s *ChatService) EnqueueWebhook(ctx context.Context, req *WebhookChatRequest) (*models.TrackedRequest, error) {
	tracked, err := s.tracker.Register(ctx, suppliedTrackID(req.Metadata))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Enqueued webhook request",
		zap.String("track_id", tracked.TrackID.String()),
		zap.String("callback_url", req.CallbackURL))

	go s.runWebhook(tracked.TrackID, req)

	return tracked, nil
}

// runWebhook owns the background run. It deliberately does not inherit the
// HTTP request context: the caller already got its acknowledgement.
func (s *ChatService) runWebhook(trackID uuid.UUID, req *WebhookChatRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["track_id"] = trackID.String()

	state := workflow.NewState(req.Message, req.SessionID, metadata)
	result, err := s.engine.Run(ctx, s.topologyFor(req.SessionID), state)

	payload := webhookPayload{TrackID: trackID, Timestamp: time.Now().UTC()}
	if err != nil {
		s.logger.Error("Background workflow run failed",
			zap.String("track_id", trackID.String()),
			zap.Error(err))
		payload.Status = models.TrackStatusFailed
		payload.Error = err.Error()
	} else {
		payload.Status = models.TrackStatusCompleted
		payload.Response = result.Response
	}

	// The run may have consumed its whole deadline. The entry must still
	// reach a terminal status and the callback must still be attempted, so
	// both run under their own budget.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), webhookFinishTimeout)
	defer cancelFinish()

	if updateErr := s.tracker.Update(finishCtx, trackID, payload.Status, payload.Response, payload.Error); updateErr != nil {
		s.logger.Error("Failed to update tracker",
			zap.String("track_id", trackID.String()),
			zap.Error(updateErr))
	}

	if req.CallbackURL != "" {
		s.dispatcher.Deliver(finishCtx, req.CallbackURL, payload)
	}
}

// suppliedTrackID extracts a caller-provided correlation id from request
// metadata. Anything absent or unparseable means the tracker generates one.
func suppliedTrackID(metadata map[string]any) uuid.UUID {
	raw, ok := metadata["track_id"].(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// WebhookStatus returns the tracked state of a background request.
func (s *ChatService) WebhookStatus(ctx context.Context, trackID uuid.UUID) (*models.TrackedRequest, error) {
	return s.tracker.Get(ctx, trackID)
}

func (s *ChatService) topologyFor(sessionID uuid.UUID) workflow.Topology {
	if sessionID == uuid.Nil {
		return workflow.TopologyMinimal
	}
	return workflow.TopologyEnhanced
}
