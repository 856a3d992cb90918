package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole is the persisted role tag of a chat message.
type MessageRole string

const (
	MessageRoleHuman  MessageRole = "human"
	MessageRoleAI     MessageRole = "ai"
	MessageRoleSystem MessageRole = "system"
)

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one persisted turn of a conversation.
type ChatMessage struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
