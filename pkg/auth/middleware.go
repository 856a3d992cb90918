package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates token logic to TokenService.
type Middleware struct {
	tokens  TokenService
	enabled bool
	logger  *zap.Logger
}

// NewMiddleware creates auth middleware. When enabled is false every
// wrapped handler runs without claims, for local development.
func NewMiddleware(tokens TokenService, enabled bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		tokens:  tokens,
		enabled: enabled,
		logger:  logger.Named("auth"),
	}
}

// RequireAuth validates the bearer token and injects claims and the raw
// token into the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next(w, r)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			m.logger.Debug("No bearer token in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			m.unauthorized(w, "Authentication required")
			return
		}

		claims, err := m.tokens.ValidateAccessToken(tokenString)
		if err != nil {
			m.logger.Debug("Token validation failed",
				zap.Error(err),
				zap.String("path", r.URL.Path))
			m.unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, tokenString)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin validates the bearer token and additionally requires the
// admin role.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next(w, r)
			return
		}

		claims, ok := GetClaims(r.Context())
		if !ok || !claims.IsAdmin() {
			m.logger.Warn("Non-admin attempted to access admin endpoint",
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Admin authorization required")
			return
		}
		next(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
