package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
)

const maxSessionTitleLength = 200

// SessionService manages conversation sessions and their messages.
type SessionService struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	logger   *zap.Logger
}

// NewSessionService creates the session service.
func NewSessionService(sessions repositories.SessionRepository, messages repositories.MessageRepository, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		messages: messages,
		logger:   logger.Named("sessions"),
	}
}

// Create starts a new conversation session for the user.
func (s *SessionService) Create(ctx context.Context, userID uuid.UUID, title string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	if len(title) > maxSessionTitleLength {
		title = title[:maxSessionTitleLength]
	}

	session := &models.ChatSession{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Created session",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", userID.String()))
	return session, nil
}

// List returns the user's sessions, most recently updated first.
func (s *SessionService) List(ctx context.Context, userID uuid.UUID) ([]*models.ChatSession, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// Get returns one session, enforcing ownership.
func (s *SessionService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ChatSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		// Hide other users' sessions rather than admitting they exist.
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// Messages returns up to limit most recent messages of the session in
// chronological order, enforcing ownership.
func (s *SessionService) Messages(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	recent, err := s.messages.ListRecent(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// Delete removes a session and its messages, enforcing ownership.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID)
}
