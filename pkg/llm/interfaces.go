// Package llm provides clients for OpenAI-compatible and Anthropic
// text-completion backends.
package llm

import (
	"context"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn handed to the completion backend.
type Message struct {
	Role    Role
	Content string
}

// CompletionResult is the outcome of a completion call, including provider
// usage metadata that the workflow folds into its run metadata.
type CompletionResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client defines the interface for completion backends.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Complete generates an assistant response for the given messages.
	Complete(ctx context.Context, messages []Message) (*CompletionResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*BreakerClient)(nil)
	_ Client = (*MockClient)(nil)
)
