package workflow

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/history"
	"github.com/convoflow/convoflow-engine/pkg/llm"
	"github.com/convoflow/convoflow-engine/pkg/retry"
	"github.com/convoflow/convoflow-engine/pkg/tools"
)

// maxMessageLength bounds message content entering the completion backend.
const maxMessageLength = 4000

const truncationSuffix = "... [truncated]"

// loadHistory loads the session's history window and prepends it as a
// leading system message. Never aborts the run: a missing session or a load
// failure degrades to an empty window.
func (e *Engine) loadHistory(ctx context.Context, state *ConversationState) error {
	if !state.HasSession() || e.history == nil {
		e.logger.Debug("No session, skipping history load")
		return nil
	}

	state.History = e.history.LoadHistory(ctx, state.SessionID, e.historyLimit)
	if len(state.History) == 0 {
		return nil
	}

	contextMessage := llm.Message{
		Role:    llm.RoleSystem,
		Content: "Context: " + history.FormatHistory(state.History),
	}
	state.Messages = append([]llm.Message{contextMessage}, state.Messages...)

	e.logger.Info("Loaded history into context",
		zap.String("session_id", state.SessionID.String()),
		zap.Int("messages", len(state.History)))
	return nil
}

// preprocess applies input hygiene: overlong message content is truncated
// with a marker, leaving message order and count unchanged. Pure, no I/O.
func (e *Engine) preprocess(state *ConversationState) error {
	for i, msg := range state.Messages {
		if len(msg.Content) > maxMessageLength {
			e.logger.Warn("Truncating long message",
				zap.Int("index", i),
				zap.Int("length", len(msg.Content)))
			// Back up to a rune boundary so the cut never leaves the
			// provider invalid UTF-8.
			cut := maxMessageLength
			for cut > 0 && !utf8.RuneStart(msg.Content[cut]) {
				cut--
			}
			state.Messages[i].Content = msg.Content[:cut] + truncationSuffix
			state.Metadata["truncated"] = true
		}
	}
	return nil
}

// generate invokes the completion backend with the full message sequence,
// retrying transient failures. Exhausted retries are fatal to the run: no
// assistant message is appended and no partial response is kept.
func (e *Engine) generate(ctx context.Context, state *ConversationState) error {
	result, err := retry.DoWithResult(ctx, e.generateCfg, func() (*llm.CompletionResult, error) {
		return e.llm.Complete(ctx, state.Messages)
	})
	if err != nil {
		return err
	}

	state.Messages = append(state.Messages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: result.Content,
	})
	state.Response = result.Content
	state.Metadata["model"] = result.Model
	state.Metadata["prompt_tokens"] = result.PromptTokens
	state.Metadata["completion_tokens"] = result.CompletionTokens
	state.Metadata["total_tokens"] = result.TotalTokens

	e.logger.Debug("Generated response", zap.Int("length", len(result.Content)))
	return nil
}

// checkToolCall is the pure routing decision: it flags whether the response
// carries an API_CALL directive and stages the raw text for invoke_tool.
func (e *Engine) checkToolCall(state *ConversationState) error {
	if tools.ShouldInvokeTool(state.Response) {
		state.ShouldCallTool = true
		state.ToolCallRequest = state.Response
		e.logger.Info("Tool call detected in response")
	} else {
		state.ShouldCallTool = false
		e.logger.Debug("No tool call detected")
	}
	return nil
}

// invokeTool parses and executes the staged directive. All failures are
// reported inline in the response text; this node never aborts the run.
func (e *Engine) invokeTool(ctx context.Context, state *ConversationState) error {
	req := tools.ParseToolCall(state.ToolCallRequest)
	if req == nil {
		e.logger.Warn("Failed to parse tool call request")
		state.ToolCallResult = &tools.ToolCallResult{
			Success: false,
			Error:   "failed to parse request",
		}
		state.Response += "\n\nAPI Error: failed to parse request"
		return nil
	}

	result := e.invoker.Invoke(ctx, req)
	state.ToolCallResult = &result

	if result.Success {
		state.Response += "\n\nAPI Response: " + renderToolBody(&result)
		e.logger.Info("Tool call succeeded", zap.Int("status", result.StatusCode))
	} else {
		state.Response += "\n\nAPI Error: " + result.Error
		e.logger.Warn("Tool call failed", zap.String("error", result.Error))
	}
	return nil
}

// renderToolBody prefers the structured body; the raw text is the fallback.
func renderToolBody(result *tools.ToolCallResult) string {
	if result.BodyStructured != nil {
		if encoded, err := json.Marshal(result.BodyStructured); err == nil {
			return string(encoded)
		}
	}
	return result.BodyText
}

// postprocess marks the run as postprocessed. Pure, no I/O.
func (e *Engine) postprocess(state *ConversationState) error {
	state.Metadata["postprocessed"] = true
	return nil
}

// saveHistory persists the latest human message and the final response.
// Terminal best-effort step: failures are logged and swallowed so a lost
// history write never fails the user-visible response.
func (e *Engine) saveHistory(ctx context.Context, state *ConversationState) error {
	if !state.HasSession() || e.history == nil {
		e.logger.Debug("No session, skipping history save")
		return nil
	}

	if human := state.LastHumanMessage(); human != "" {
		if _, err := e.history.SaveHumanMessage(ctx, state.SessionID, human); err != nil {
			e.logger.Error("Failed to save human message", zap.Error(err))
		}
	}

	if state.Response != "" {
		metadata := map[string]any{
			"tool_called": state.ShouldCallTool,
		}
		if state.ToolCallResult != nil {
			metadata["tool_result"] = state.ToolCallResult
		}
		if _, err := e.history.SaveAIMessage(ctx, state.SessionID, state.Response, metadata); err != nil {
			e.logger.Error("Failed to save assistant message", zap.Error(err))
		}
	}

	return nil
}
