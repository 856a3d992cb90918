package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/services"
)

// AuthHandler handles registration and the token flows.
type AuthHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users *services.UserService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger}
}

// RegisterRoutes registers the auth routes on the given mux. These are the
// only unauthenticated API routes.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Refresh)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	*auth.TokenPair
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			_ = ErrorResponse(w, http.StatusConflict, "conflict", "Email already registered")
			return
		}
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusCreated, user); err != nil {
		h.logger.Error("Failed to encode register response", zap.Error(err))
	}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	pair, user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Do not distinguish unknown email, bad password and inactive
		// account.
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
		return
	}

	if err := WriteJSON(w, http.StatusOK, loginResponse{
		TokenPair: pair,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Role:      string(user.Role),
	}); err != nil {
		h.logger.Error("Failed to encode login response", zap.Error(err))
	}
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil || req.RefreshToken == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired refresh token")
		return
	}

	if err := WriteJSON(w, http.StatusOK, pair); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}
