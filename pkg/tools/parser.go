// Package tools implements the API_CALL directive protocol: detecting and
// parsing tool-call requests embedded in model output, and executing them
// against external HTTP APIs.
package tools

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/convoflow/convoflow-engine/pkg/jsonutil"
)

// Marker is the literal directive prefix the model emits to request an
// external API call. No other delimiter syntax is recognized.
const Marker = "API_CALL:"

const defaultTimeoutSeconds = 30

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

// ToolCallRequest describes one HTTP request the model asked for.
type ToolCallRequest struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Params         map[string]string `json:"params"`
	Body           map[string]any    `json:"data"`
	TimeoutSeconds int               `json:"timeout"`
}

// ShouldInvokeTool reports whether text contains the API_CALL directive
// marker. The marker may be detectable while ParseToolCall still returns nil
// for malformed JSON; callers treat that as a failed tool call, not an error.
func ShouldInvokeTool(text string) bool {
	return strings.Contains(text, Marker)
}

// ParseToolCall extracts the JSON object following the API_CALL marker,
// tracking brace depth so nested objects are handled. It returns nil when
// the marker is absent, the braces never balance, or the JSON does not
// decode into a valid request. It never panics on malformed input.
func ParseToolCall(text string) *ToolCallRequest {
	idx := strings.Index(text, Marker)
	if idx < 0 {
		return nil
	}

	rest := strings.TrimSpace(text[idx+len(Marker):])

	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil
	}

	depth := 0
	end := -1
	for i := start; i < len(rest); i++ {
		switch rest[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}

	// Models are loose with value types: numeric params, string timeouts.
	// Decode into raw values first and coerce.
	var wire struct {
		URL     string                     `json:"url"`
		Method  string                     `json:"method"`
		Headers map[string]json.RawMessage `json:"headers"`
		Params  map[string]json.RawMessage `json:"params"`
		Body    map[string]any             `json:"data"`
		Timeout json.RawMessage            `json:"timeout"`
	}
	if err := json.Unmarshal([]byte(rest[start:end]), &wire); err != nil {
		return nil
	}

	req := ToolCallRequest{
		URL:            wire.URL,
		Method:         wire.Method,
		Headers:        jsonutil.FlexibleStringMap(wire.Headers),
		Params:         jsonutil.FlexibleStringMap(wire.Params),
		Body:           wire.Body,
		TimeoutSeconds: jsonutil.FlexibleIntValue(wire.Timeout),
	}

	if !req.normalize() {
		return nil
	}
	return &req
}

// normalize applies defaults and validates fields. Returns false when the
// request is unusable.
func (r *ToolCallRequest) normalize() bool {
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}

	if r.Method == "" {
		r.Method = "GET"
	}
	r.Method = strings.ToUpper(r.Method)
	if !allowedMethods[r.Method] {
		return false
	}

	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = defaultTimeoutSeconds
	}
	return true
}
