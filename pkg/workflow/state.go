package workflow

import (
	"github.com/google/uuid"

	"github.com/convoflow/convoflow-engine/pkg/llm"
	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/tools"
)

// ConversationState is the mutable record threaded through one workflow run.
// Messages is append-only within a run; SessionID is immutable once the run
// starts. A zero SessionID means the history steps are no-ops.
type ConversationState struct {
	// Messages is the ordered, role-tagged conversation handed to the
	// completion backend. It never shrinks during a run.
	Messages []llm.Message

	// Response is the current best-effort assistant output; later steps
	// append tool-call results to it.
	Response string

	// Metadata carries the request id, caller identity and trace fields.
	// Steps merge into it, never replace it.
	Metadata map[string]any

	// SessionID correlates this run with persisted history.
	SessionID uuid.UUID

	// History holds previously persisted messages loaded at workflow start;
	// immutable once loaded.
	History []*models.ChatMessage

	// ToolCallRequest is raw text suspected of containing an API_CALL
	// directive, set by the routing step.
	ToolCallRequest string

	// ToolCallResult is the structured outcome of executing the directive.
	ToolCallResult *tools.ToolCallResult

	// ShouldCallTool is the routing decision made by the check step. When
	// true, ToolCallRequest is non-empty and was derived from Response.
	ShouldCallTool bool
}

// NewState builds the entry state for a run from the inbound message and
// request metadata.
func NewState(message string, sessionID uuid.UUID, metadata map[string]any) *ConversationState {
	merged := make(map[string]any, len(metadata))
	for k, v := range metadata {
		merged[k] = v
	}
	return &ConversationState{
		Messages:  []llm.Message{{Role: llm.RoleHuman, Content: message}},
		Metadata:  merged,
		SessionID: sessionID,
	}
}

// HasSession reports whether this run is correlated with persisted history.
func (s *ConversationState) HasSession() bool {
	return s.SessionID != uuid.Nil
}

// LastHumanMessage returns the content of the most recent human message, or
// "" if there is none.
func (s *ConversationState) LastHumanMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleHuman {
			return s.Messages[i].Content
		}
	}
	return ""
}
