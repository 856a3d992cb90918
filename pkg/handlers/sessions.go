package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/services"
)

// SessionHandler handles conversation session CRUD.
type SessionHandler struct {
	sessions *services.SessionService
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *services.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// RegisterRoutes registers the session routes on the given mux, protected
// by the auth middleware.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/v1/sessions", mw.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/v1/sessions", mw.RequireAuth(h.List))
	mux.HandleFunc("GET /api/v1/sessions/{id}", mw.RequireAuth(h.Get))
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", mw.RequireAuth(h.Messages))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", mw.RequireAuth(h.Delete))
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	session, err := h.sessions.Create(r.Context(), userID, req.Title)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create session")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, session); err != nil {
		h.logger.Error("Failed to encode session", zap.Error(err))
	}
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	sessions, err := h.sessions.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list sessions")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions}); err != nil {
		h.logger.Error("Failed to encode sessions", zap.Error(err))
	}
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestIDs(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), userID, sessionID)
	if err != nil {
		h.notFoundOrInternal(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, session); err != nil {
		h.logger.Error("Failed to encode session", zap.Error(err))
	}
}

// Messages handles GET /api/v1/sessions/{id}/messages.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestIDs(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = parsed
	}

	messages, err := h.sessions.Messages(r.Context(), userID, sessionID, limit)
	if err != nil {
		h.notFoundOrInternal(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"messages": messages}); err != nil {
		h.logger.Error("Failed to encode messages", zap.Error(err))
	}
}

// Delete handles DELETE /api/v1/sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestIDs(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Delete(r.Context(), userID, sessionID); err != nil {
		h.notFoundOrInternal(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) requestIDs(w http.ResponseWriter, r *http.Request) (userID, sessionID uuid.UUID, ok bool) {
	userID = auth.GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return uuid.Nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid session id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

func (h *SessionHandler) notFoundOrInternal(w http.ResponseWriter, err error) {
	if errors.Is(err, apperrors.ErrSessionNotFound) || errors.Is(err, apperrors.ErrNotFound) {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}
	h.logger.Error("Session operation failed", zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Session operation failed")
}
