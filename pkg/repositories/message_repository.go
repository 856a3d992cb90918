package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow-engine/pkg/database"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

// MessageRepository provides data access for persisted chat messages.
type MessageRepository interface {
	Create(ctx context.Context, message *models.ChatMessage) error
	// ListRecent returns the newest limit messages for a session ordered by
	// created_at descending. Callers that need chronological order reverse
	// the slice themselves.
	ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type messageRepository struct {
	db *database.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *database.DB) MessageRepository {
	return &messageRepository{db: db}
}

var _ MessageRepository = (*messageRepository)(nil)

func (r *messageRepository) Create(ctx context.Context, message *models.ChatMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	sql := `
		INSERT INTO chat_messages (id, session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, sql,
		message.ID, message.SessionID, message.Role, message.Content,
		message.Metadata, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

func (r *messageRepository) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	sql := `
		SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, sql, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (r *messageRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	sql := `SELECT count(*) FROM chat_messages WHERE session_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, sql, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chat messages: %w", err)
	}
	return count, nil
}
