package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ToolCallResult is the uniform outcome of executing a ToolCallRequest.
// StatusCode 0 signals a transport-level failure before any response was
// received. Success is true iff the status code is 2xx; Error is non-empty
// iff Success is false.
type ToolCallResult struct {
	StatusCode     int            `json:"status_code"`
	Success        bool           `json:"success"`
	BodyStructured map[string]any `json:"data,omitempty"`
	BodyText       string         `json:"text,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Invoker executes tool-call requests. It owns one reusable HTTP client and
// is safe for concurrent use by multiple in-flight workflow runs.
type Invoker struct {
	client *http.Client
	logger *zap.Logger
}

// NewInvoker creates an Invoker. Per-call deadlines come from each request's
// TimeoutSeconds, so the shared client carries no timeout of its own.
func NewInvoker(logger *zap.Logger) *Invoker {
	return &Invoker{
		client: &http.Client{},
		logger: logger.Named("tools"),
	}
}

// Invoke executes the request and always returns a ToolCallResult; ordinary
// network and HTTP failures are folded into the result rather than returned
// as errors, so failure is uniformly inspectable downstream.
func (inv *Invoker) Invoke(ctx context.Context, req *ToolCallRequest) ToolCallResult {
	inv.logger.Info("Making tool call",
		zap.String("method", req.Method),
		zap.String("url", req.URL))

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodDelete {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return transportFailure(fmt.Sprintf("failed to encode request body: %v", err))
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return transportFailure(fmt.Sprintf("failed to build request: %v", err))
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if len(req.Params) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		inv.logger.Warn("Tool call transport failure", zap.Error(err))
		if ctx.Err() == context.DeadlineExceeded {
			return transportFailure(fmt.Sprintf("request timed out after %s", timeout))
		}
		return transportFailure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(fmt.Sprintf("failed to read response body: %v", err))
	}

	result := ToolCallResult{
		StatusCode: resp.StatusCode,
		BodyText:   string(raw),
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}

	// Best-effort JSON parse; the raw text is kept either way.
	var structured map[string]any
	if err := json.Unmarshal(raw, &structured); err == nil {
		result.BodyStructured = structured
	}

	if result.Success {
		inv.logger.Info("Tool call succeeded", zap.Int("status", resp.StatusCode))
	} else {
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		inv.logger.Warn("Tool call failed", zap.Int("status", resp.StatusCode))
	}

	return result
}

// Close releases the pooled connections for graceful shutdown.
func (inv *Invoker) Close() {
	inv.client.CloseIdleConnections()
}

func transportFailure(msg string) ToolCallResult {
	return ToolCallResult{
		StatusCode: 0,
		Success:    false,
		Error:      msg,
	}
}
