package llm

import (
	"context"
)

// BreakerClient wraps a Client with a circuit breaker so that a provider
// outage fails fast instead of tying up workflow runs in retries.
type BreakerClient struct {
	inner   Client
	breaker *CircuitBreaker
}

// NewBreakerClient wraps client with the given circuit breaker configuration.
func NewBreakerClient(inner Client, config CircuitBreakerConfig) *BreakerClient {
	return &BreakerClient{
		inner:   inner,
		breaker: NewCircuitBreaker(config),
	}
}

// Complete implements Client. A tripped breaker yields a retryable
// connection-class error without touching the provider.
func (c *BreakerClient) Complete(ctx context.Context, messages []Message) (*CompletionResult, error) {
	allowed, err := c.breaker.Allow()
	if !allowed {
		return nil, NewError(ErrorTypeConnection, "circuit breaker rejected request", true, err)
	}

	result, err := c.inner.Complete(ctx, messages)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	c.breaker.RecordSuccess()
	return result, nil
}

// GetModel implements Client.
func (c *BreakerClient) GetModel() string { return c.inner.GetModel() }

// GetEndpoint implements Client.
func (c *BreakerClient) GetEndpoint() string { return c.inner.GetEndpoint() }
