// Package workflow implements the conversation workflow engine: a
// fixed-topology state machine that sequences history loading, input
// hygiene, completion, conditional tool invocation and persistence for one
// inbound message.
package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/history"
	"github.com/convoflow/convoflow-engine/pkg/llm"
	"github.com/convoflow/convoflow-engine/pkg/retry"
	"github.com/convoflow/convoflow-engine/pkg/tools"
)

// Node identifies one step of the workflow.
type Node int

const (
	NodeLoadHistory Node = iota
	NodePreprocess
	NodeGenerate
	NodeCheckToolCall
	NodeInvokeTool
	NodePostprocess
	NodeSaveHistory
	NodeEnd
)

// String returns the node name used in logs.
func (n Node) String() string {
	switch n {
	case NodeLoadHistory:
		return "load_history"
	case NodePreprocess:
		return "preprocess"
	case NodeGenerate:
		return "generate"
	case NodeCheckToolCall:
		return "check_tool_call"
	case NodeInvokeTool:
		return "invoke_tool"
	case NodePostprocess:
		return "postprocess"
	case NodeSaveHistory:
		return "save_history"
	case NodeEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Topology selects one of the two fixed node graphs. Both share the same
// node implementations.
type Topology int

const (
	// TopologyMinimal runs preprocess -> generate -> postprocess, for
	// direct calls without memory or tool use.
	TopologyMinimal Topology = iota
	// TopologyEnhanced runs the full sequence with history loading,
	// conditional tool invocation and persistence.
	TopologyEnhanced
)

// String returns the topology name used in logs.
func (t Topology) String() string {
	if t == TopologyMinimal {
		return "minimal"
	}
	return "enhanced"
}

// entry returns the first node of the topology.
func (t Topology) entry() Node {
	if t == TopologyMinimal {
		return NodePreprocess
	}
	return NodeLoadHistory
}

// next is the transition function. The only conditional fork is after
// check_tool_call; everything else is a fixed edge. There are no cycles and
// no node is revisited within one run.
func (t Topology) next(current Node, state *ConversationState) Node {
	if t == TopologyMinimal {
		switch current {
		case NodePreprocess:
			return NodeGenerate
		case NodeGenerate:
			return NodePostprocess
		default:
			return NodeEnd
		}
	}

	switch current {
	case NodeLoadHistory:
		return NodePreprocess
	case NodePreprocess:
		return NodeGenerate
	case NodeGenerate:
		return NodeCheckToolCall
	case NodeCheckToolCall:
		if state.ShouldCallTool {
			return NodeInvokeTool
		}
		return NodePostprocess
	case NodeInvokeTool:
		return NodePostprocess
	case NodePostprocess:
		return NodeSaveHistory
	default:
		return NodeEnd
	}
}

// ToolInvoker executes a parsed tool-call request. *tools.Invoker is the
// production implementation.
type ToolInvoker interface {
	Invoke(ctx context.Context, req *tools.ToolCallRequest) tools.ToolCallResult
}

// Engine orchestrates workflow runs. Steps execute sequentially within a
// run; the engine itself holds no per-run state and is safe for concurrent
// use.
type Engine struct {
	llm          llm.Client
	history      history.Store // nil disables the history nodes
	invoker      ToolInvoker
	generateCfg  *retry.Config
	historyLimit int
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerateRetry overrides the retry policy for the generate step.
func WithGenerateRetry(cfg *retry.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.generateCfg = cfg
		}
	}
}

// WithHistoryLimit sets how many prior messages are loaded for context.
func WithHistoryLimit(limit int) Option {
	return func(e *Engine) {
		e.historyLimit = limit
	}
}

// NewEngine creates a workflow engine. history may be nil when persistence
// is not wired (the history nodes then skip).
func NewEngine(client llm.Client, store history.Store, invoker ToolInvoker, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		llm:          client,
		history:      store,
		invoker:      invoker,
		generateCfg:  retry.DefaultConfig(),
		historyLimit: 10,
		logger:       logger.Named("workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the topology from its entry node to NodeEnd, carrying state
// through each step. Only the fatal error class escapes: exhausted
// generation retries or a programmer error in a pure node. Everything else
// is absorbed into the state per node contract.
func (e *Engine) Run(ctx context.Context, topology Topology, state *ConversationState) (*ConversationState, error) {
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}

	e.logger.Info("Starting workflow run",
		zap.String("topology", topology.String()),
		zap.Any("request_id", state.Metadata["request_id"]))

	for node := topology.entry(); node != NodeEnd; node = topology.next(node, state) {
		if err := e.execute(ctx, node, state); err != nil {
			e.logger.Error("Workflow run failed",
				zap.String("node", node.String()),
				zap.Error(err))
			return nil, fmt.Errorf("workflow node %s: %w", node, err)
		}
	}

	e.logger.Info("Workflow run completed",
		zap.Bool("tool_called", state.ShouldCallTool))
	return state, nil
}

func (e *Engine) execute(ctx context.Context, node Node, state *ConversationState) error {
	e.logger.Debug("Executing node", zap.String("node", node.String()))

	switch node {
	case NodeLoadHistory:
		return e.loadHistory(ctx, state)
	case NodePreprocess:
		return e.preprocess(state)
	case NodeGenerate:
		return e.generate(ctx, state)
	case NodeCheckToolCall:
		return e.checkToolCall(state)
	case NodeInvokeTool:
		return e.invokeTool(ctx, state)
	case NodePostprocess:
		return e.postprocess(state)
	case NodeSaveHistory:
		return e.saveHistory(ctx, state)
	default:
		return fmt.Errorf("unknown node %d", node)
	}
}
