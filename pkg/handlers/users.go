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

// UserHandler handles the admin user management surface.
type UserHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// RegisterRoutes registers the admin routes on the given mux. All routes
// require the admin role.
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("GET /api/v1/admin/users", mw.RequireAdmin(h.List))
	mux.HandleFunc("PUT /api/v1/admin/users/{id}/active", mw.RequireAdmin(h.SetActive))
}

// List handles GET /api/v1/admin/users with limit/offset paging.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list users")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"users": users}); err != nil {
		h.logger.Error("Failed to encode users", zap.Error(err))
	}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive handles PUT /api/v1/admin/users/{id}/active.
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid user id")
		return
	}

	var req setActiveRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.users.SetActive(r.Context(), userID, req.Active); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "User not found")
			return
		}
		h.logger.Error("Failed to update user", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to update user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
