// Package history bridges persisted chat rows and the workflow's message
// representation. History is an optimization, not a correctness requirement:
// load failures degrade to an empty window and save failures are reported to
// the caller to log and swallow.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
)

// Store is the conversation-history surface the workflow engine consumes.
type Store interface {
	// LoadHistory returns up to limit most-recent messages for the session
	// in chronological (oldest-first) order. A missing session or a load
	// failure yields an empty slice, never an error.
	LoadHistory(ctx context.Context, sessionID uuid.UUID, limit int) []*models.ChatMessage

	// SaveMessage persists one message. Returns
	// apperrors.ErrSessionNotFound when the session does not exist; the
	// session is never fabricated on the caller's behalf.
	SaveMessage(ctx context.Context, sessionID uuid.UUID, content string, role models.MessageRole, metadata map[string]any) (*models.ChatMessage, error)

	SaveHumanMessage(ctx context.Context, sessionID uuid.UUID, content string) (*models.ChatMessage, error)
	SaveAIMessage(ctx context.Context, sessionID uuid.UUID, content string, metadata map[string]any) (*models.ChatMessage, error)
	SaveSystemMessage(ctx context.Context, sessionID uuid.UUID, content string) (*models.ChatMessage, error)
}

// Service implements Store on top of the session and message repositories.
type Service struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	logger   *zap.Logger
}

// NewService creates a history service.
func NewService(sessions repositories.SessionRepository, messages repositories.MessageRepository, logger *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		messages: messages,
		logger:   logger.Named("history"),
	}
}

var _ Store = (*Service)(nil)

// LoadHistory implements Store.
func (s *Service) LoadHistory(ctx context.Context, sessionID uuid.UUID, limit int) []*models.ChatMessage {
	if limit <= 0 {
		return nil
	}

	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		s.logger.Warn("Chat session not found, returning empty history",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil
	}

	recent, err := s.messages.ListRecent(ctx, sessionID, limit)
	if err != nil {
		s.logger.Error("Failed to load conversation history",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil
	}

	// ListRecent is newest-first; callers see chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	s.logger.Info("Loaded conversation history",
		zap.String("session_id", sessionID.String()),
		zap.Int("messages", len(recent)))
	return recent
}

// SaveMessage implements Store.
func (s *Service) SaveMessage(ctx context.Context, sessionID uuid.UUID, content string, role models.MessageRole, metadata map[string]any) (*models.ChatMessage, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("save %s message: %w", role, err)
	}

	message := &models.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("save %s message: %w", role, err)
	}

	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to touch chat session", zap.Error(err))
	}

	s.logger.Debug("Saved message",
		zap.String("session_id", sessionID.String()),
		zap.String("role", string(role)))
	return message, nil
}

// SaveHumanMessage implements Store.
func (s *Service) SaveHumanMessage(ctx context.Context, sessionID uuid.UUID, content string) (*models.ChatMessage, error) {
	return s.SaveMessage(ctx, sessionID, content, models.MessageRoleHuman, nil)
}

// SaveAIMessage implements Store.
func (s *Service) SaveAIMessage(ctx context.Context, sessionID uuid.UUID, content string, metadata map[string]any) (*models.ChatMessage, error) {
	return s.SaveMessage(ctx, sessionID, content, models.MessageRoleAI, metadata)
}

// SaveSystemMessage implements Store.
func (s *Service) SaveSystemMessage(ctx context.Context, sessionID uuid.UUID, content string) (*models.ChatMessage, error) {
	return s.SaveMessage(ctx, sessionID, content, models.MessageRoleSystem, nil)
}

// FormatHistory renders a loaded history window as a single text block
// suitable for a leading system message, so the completion backend does not
// need to accept structured multi-turn history.
func FormatHistory(messages []*models.ChatMessage) string {
	if len(messages) == 0 {
		return "No previous conversation history."
	}

	lines := make([]string, 0, len(messages)+1)
	lines = append(lines, "Previous conversation:")
	for _, msg := range messages {
		switch msg.Role {
		case models.MessageRoleHuman:
			lines = append(lines, "Human: "+msg.Content)
		case models.MessageRoleAI:
			lines = append(lines, "Assistant: "+msg.Content)
		case models.MessageRoleSystem:
			lines = append(lines, "System: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}
