package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/config"
)

// NewFromConfig creates a completion client for the configured provider and
// wraps it with a circuit breaker. Provider selection ("fast" OpenAI-style
// endpoints vs a "capable" Anthropic model) is purely configuration.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	clientCfg := &Config{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	var (
		inner Client
		err   error
	)
	switch cfg.Provider {
	case "openai":
		inner, err = NewOpenAIClient(clientCfg, logger)
	case "anthropic":
		inner, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	return NewBreakerClient(inner, DefaultCircuitBreakerConfig()), nil
}
