package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
)

// UserService implements account registration and the token flows.
type UserService struct {
	users  repositories.UserRepository
	tokens auth.TokenService
	logger *zap.Logger
}

// NewUserService creates the account service.
func NewUserService(users repositories.UserRepository, tokens auth.TokenService, logger *zap.Logger) *UserService {
	return &UserService{
		users:  users,
		tokens: tokens,
		logger: logger.Named("users"),
	}
}

// Register creates a new account with a bcrypt-hashed password. The first
// registration is not special-cased: roles are assigned by an admin.
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("Registered user", zap.String("user_id", user.ID.String()))
	return user, nil
}

// Login verifies credentials and issues a token pair. Inactive accounts
// are rejected with the same error as bad credentials.
func (s *UserService) Login(ctx context.Context, email, password string) (*auth.TokenPair, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Same error for unknown email and bad password.
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.logger.Warn("Login attempt on inactive account", zap.String("user_id", user.ID.String()))
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	pair, err := s.tokens.IssueTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The account is
// re-checked so a deactivated user cannot keep refreshing.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	if !user.IsActive {
		return nil, apperrors.ErrInvalidToken
	}

	return s.tokens.IssueTokenPair(user)
}

// List returns a page of accounts for the admin surface.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.users.SetActive(ctx, id, active)
}
