// Package handlers implements the HTTP surface: chat, webhook tracking,
// auth, session CRUD, admin and health endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/middleware"
	"github.com/convoflow/convoflow-engine/pkg/services"
)

const maxChatBodyBytes = 1 << 20 // 1 MiB

// ChatHandler handles synchronous chat and asynchronous webhook requests.
type ChatHandler struct {
	chat   *services.ChatService
	logger *zap.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chat *services.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// RegisterRoutes registers the chat routes on the given mux, protected by
// the auth middleware.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/v1/chat", mw.RequireAuth(h.Chat))
	mux.HandleFunc("POST /api/v1/webhook", mw.RequireAuth(h.EnqueueWebhook))
	mux.HandleFunc("GET /api/v1/webhook/{trackId}", mw.RequireAuth(h.WebhookStatus))
}

// Chat handles POST /api/v1/chat: one synchronous conversation turn.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req services.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Message == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	if id := middleware.GetRequestID(r.Context()); id != "" {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["request_id"] = id
	}

	resp, err := h.chat.Chat(r.Context(), &req)
	if err != nil {
		h.logger.Error("Chat request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusBadGateway, "generation_failed", "Failed to generate a response")
		return
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode chat response", zap.Error(err))
	}
}

// EnqueueWebhook handles POST /api/v1/webhook: registers a tracked
// background run and acknowledges immediately.
func (h *ChatHandler) EnqueueWebhook(w http.ResponseWriter, r *http.Request) {
	var req services.WebhookChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Message == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if parsed, err := url.Parse(req.CallbackURL); req.CallbackURL == "" || err != nil || !parsed.IsAbs() {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "callback_url must be an absolute URL")
		return
	}

	tracked, err := h.chat.EnqueueWebhook(r.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to enqueue webhook request", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to register request")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, map[string]any{
		"track_id": tracked.TrackID,
		"status":   tracked.Status,
	}); err != nil {
		h.logger.Error("Failed to encode webhook ack", zap.Error(err))
	}
}

// WebhookStatus handles GET /api/v1/webhook/{trackId}.
func (h *ChatHandler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	trackID, err := uuid.Parse(r.PathValue("trackId"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid track id")
		return
	}

	tracked, err := h.chat.WebhookStatus(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Unknown track id")
			return
		}
		h.logger.Error("Failed to look up tracked request", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to look up request")
		return
	}

	if err := WriteJSON(w, http.StatusOK, tracked); err != nil {
		h.logger.Error("Failed to encode tracked request", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body with a size cap and strict field
// checking.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
