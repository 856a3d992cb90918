package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/config"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

const tokenIssuer = "convoflow-engine"

// TokenPair is an access/refresh token pair returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // access token lifetime, seconds
}

// TokenService issues and validates signed tokens.
// This abstraction enables clean separation between HTTP handling
// and token logic, making both easier to test.
type TokenService interface {
	// IssueTokenPair creates a fresh access/refresh pair for the user.
	IssueTokenPair(user *models.User) (*TokenPair, error)

	// ValidateAccessToken parses and verifies an access token.
	ValidateAccessToken(tokenString string) (*Claims, error)

	// ValidateRefreshToken parses and verifies a refresh token.
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

// tokenService implements TokenService with HS256 and a shared secret.
type tokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

var _ TokenService = (*tokenService)(nil)

// NewTokenService creates a TokenService from auth config.
func NewTokenService(cfg *config.AuthConfig, logger *zap.Logger) TokenService {
	return &tokenService{
		secret:     []byte(cfg.Secret),
		accessTTL:  time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute,
		refreshTTL: time.Duration(cfg.RefreshTokenTTLDays) * 24 * time.Hour,
		logger:     logger.Named("auth"),
	}
}

func (s *tokenService) IssueTokenPair(user *models.User) (*TokenPair, error) {
	access, err := s.sign(user, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.sign(user, TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *tokenService) sign(user *models.User, tokenType TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Role:  string(user.Role),
		Type:  tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenTypeAccess)
}

func (s *tokenService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenTypeRefresh)
}

func (s *tokenService) validate(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		s.logger.Debug("Token validation failed", zap.Error(err))
		return nil, apperrors.ErrInvalidToken
	}
	if !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	if claims.Type != expected {
		s.logger.Debug("Token type mismatch",
			zap.String("expected", string(expected)),
			zap.String("got", string(claims.Type)))
		return nil, apperrors.ErrInvalidToken
	}

	if _, err := claims.UserID(); err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	return claims, nil
}
