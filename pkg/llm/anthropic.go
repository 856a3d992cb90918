package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides access to the Anthropic messages API.
// The Anthropic API takes system text out-of-band, so system messages are
// collected into the request's System field instead of the message list.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewAnthropicClient creates a new Anthropic completion client.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("llm"),
	}, nil
}

// Complete generates an assistant response with usage stats.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message) (*CompletionResult, error) {
	var systemParts []string
	chatMessages := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleAssistant:
			chatMessages = append(chatMessages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			chatMessages = append(chatMessages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	temperature := float32(c.temperature)

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("messages", len(chatMessages)))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      strings.Join(systemParts, "\n\n"),
		Messages:    chatMessages,
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyWithContext(err, c.model, c.GetEndpoint())
	}

	content := extractAnthropicText(resp)
	if content == "" {
		return nil, NewError(ErrorTypeUnknown, "no text content in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &CompletionResult{
		Content:          content,
		Model:            string(resp.Model),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// GetModel implements Client.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint implements Client.
func (c *AnthropicClient) GetEndpoint() string {
	return "https://api.anthropic.com/v1"
}

func extractAnthropicText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
