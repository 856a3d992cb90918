// Package webhook delivers workflow results to caller-supplied callback
// URLs. Delivery is best-effort: transport failures are retried with
// backoff, HTTP rejections are not.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/config"
	"github.com/convoflow/convoflow-engine/pkg/retry"
)

// Dispatcher posts JSON payloads to callback URLs.
type Dispatcher struct {
	client   *http.Client
	retryCfg *retry.Config
	timeout  time.Duration
	logger   *zap.Logger
}

// transportError marks a failure to reach the callback endpoint at all.
// These are worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string     { return e.err.Error() }
func (e *transportError) Unwrap() error     { return e.err }
func (e *transportError) IsRetryable() bool { return true }

// rejectionError marks an HTTP error status from the callback endpoint.
// The receiver saw the request and refused it; retrying would resend the
// same payload to the same endpoint, so these are terminal.
type rejectionError struct{ status int }

func (e *rejectionError) Error() string     { return fmt.Sprintf("callback rejected with HTTP %d", e.status) }
func (e *rejectionError) IsRetryable() bool { return false }

// NewDispatcher creates a dispatcher from webhook config.
func NewDispatcher(cfg *config.WebhookConfig, logger *zap.Logger) *Dispatcher {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Dispatcher{
		client: &http.Client{},
		retryCfg: &retry.Config{
			MaxRetries:   attempts - 1,
			InitialDelay: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger.Named("webhook"),
	}
}

// Deliver posts payload as JSON to callbackURL. Returns true when the
// endpoint acknowledged with a non-error status. Transport failures are
// retried per the configured policy; an HTTP error status (>= 400) is a
// rejection and fails immediately.
func (d *Dispatcher) Deliver(ctx context.Context, callbackURL string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("Failed to encode callback payload", zap.Error(err))
		return false
	}

	err = retry.DoIfRetryable(ctx, d.retryCfg, func() error {
		return d.post(ctx, callbackURL, body)
	})
	if err != nil {
		d.logger.Warn("Callback delivery failed",
			zap.String("url", callbackURL),
			zap.Error(err))
		return false
	}

	d.logger.Info("Callback delivered", zap.String("url", callbackURL))
	return true
}

func (d *Dispatcher) post(ctx context.Context, callbackURL string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return &rejectionError{status: 0}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &rejectionError{status: resp.StatusCode}
	}
	return nil
}
