package chatengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// MaxRounds is the default tool-call -> result cycle cap per request,
// overridable per call up to maxRoundsCap.
const (
	MaxRounds    = 5
	maxRoundsCap = 10
)

// maxSubAgentDepth bounds spawn_agent recursion.
const maxSubAgentDepth = 2

type subAgentDepthKey struct{}

// withSubAgentDepth stashes the current recursion depth in ctx; an
// explicit context value rather than goroutine-local state.
func withSubAgentDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, subAgentDepthKey{}, depth)
}

func subAgentDepth(ctx context.Context) int {
	d, _ := ctx.Value(subAgentDepthKey{}).(int)
	return d
}

type sessionIDKey struct{}

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id propagated into a tool's
// context, for tools that need it.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// Caller is the subset of provider.Failover the engine depends on,
// letting tests substitute a fake without constructing a real registry.
type Caller interface {
	ChatComplete(ctx context.Context, primaryProvider string, req provider.Request) (provider.Result, error)
}

// Hooks are optional callbacks the streaming layer attaches to observe
// loop progress; RunToolLoop works identically with all hooks nil.
type Hooks struct {
	OnToolCall      func(name string, args map[string]any)
	OnToolResult    func(name, result string)
	OnApprovalWait  func(id int64, tool string, args map[string]any, sessionID string, expiresIn int)
}

// LoopRequest bundles one invocation of RunToolLoop.
type LoopRequest struct {
	Provider    string
	Model       string
	Messages    []provider.Message
	System      string
	Temperature float64
	MaxTokens   int
	MaxRounds   int // 0 = MaxRounds default
	SessionID   string
	UseTools    bool
}

// Engine runs the ReAct tool loop: call the model, execute any
// TOOL_CALL lines it emits, reflect results back, repeat.
type Engine struct {
	caller Caller
	tools  *Registry
	gate   *ApprovalGate
}

func NewEngine(caller Caller, tools *Registry, gate *ApprovalGate) *Engine {
	return &Engine{caller: caller, tools: tools, gate: gate}
}

// RunToolLoop calls the adapter, extracts and executes tool calls, and
// repeats until a tool-call-free response or the round cap is reached.
func (e *Engine) RunToolLoop(ctx context.Context, req LoopRequest, hooks Hooks) (provider.Result, error) {
	rounds := MaxRounds
	if req.MaxRounds > 0 {
		rounds = req.MaxRounds
		if rounds > maxRoundsCap {
			rounds = maxRoundsCap
		}
	}

	ctx = withSessionID(ctx, req.SessionID)
	msgs := append([]provider.Message(nil), req.Messages...)

	var last provider.Result
	for round := 0; round < rounds; round++ {
		result, err := e.caller.ChatComplete(ctx, req.Provider, provider.Request{
			Model:       req.Model,
			Messages:    msgs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return provider.Result{}, err
		}
		last = result

		if !req.UseTools {
			return result, nil
		}

		calls := ExtractToolCalls(result.Content)
		if len(calls) == 0 {
			last.Content = StripToolCallLines(result.Content)
			return last, nil
		}

		displayContent := StripToolCallLines(result.Content)
		last.Content = displayContent
		msgs = append(msgs, provider.Message{Role: "assistant", Content: result.Content})

		var toolResults []string
		for _, call := range calls {
			if hooks.OnToolCall != nil {
				hooks.OnToolCall(call.Name, call.Args)
			}
			text := e.runTool(ctx, call, req.SessionID, hooks)
			if hooks.OnToolResult != nil {
				hooks.OnToolResult(call.Name, text)
			}
			toolResults = append(toolResults, fmt.Sprintf("TOOL_RESULT [%s]:\n%s", call.Name, text))
		}
		msgs = append(msgs, provider.Message{Role: "user", Content: strings.Join(toolResults, "\n\n")})
	}

	return last, nil
}

// runTool validates args, applies mid-loop approval gating, invokes the
// tool, and formats the result as a display string. Errors are never
// propagated to the caller — they become "[ERROR] ..." result text fed
// back to the model.
func (e *Engine) runTool(ctx context.Context, call ParsedCall, sessionID string, hooks Hooks) string {
	if e.tools == nil {
		return fmt.Sprintf("[ERROR] Unknown tool: %q. No tools registered.", call.Name)
	}
	spec, ok := e.tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf("[ERROR] Unknown tool: %q.", call.Name)
	}

	args, err := coerceArgs(spec, call.Args)
	if err != nil {
		return fmt.Sprintf("[ERROR] %s", err)
	}

	if ApprovalTools[call.Name] && e.gate != nil {
		id := e.gate.Register(call.Name, args, sessionID)
		if hooks.OnApprovalWait != nil {
			hooks.OnApprovalWait(id, call.Name, args, sessionID, int(DefaultApprovalTimeout.Seconds()))
		}
		approved := e.gate.WaitForDecision(ctx, id, DefaultApprovalTimeout)
		if !approved {
			return fmt.Sprintf("[DENIED] The action %q was not approved by the user (approval id=%d). No changes were made.", call.Name, id)
		}
	}

	result, err := spec.Fn(ctx, args)
	if err != nil {
		return fmt.Sprintf("[ERROR] Tool %q raised an error: %s", call.Name, err)
	}
	return result
}

// SpawnAgentTool builds the built-in spawn_agent ToolSpec: it runs an
// isolated, spawn_agent-free tool loop capped at maxSubAgentDepth
// recursion.
func SpawnAgentTool(caller Caller, tools *Registry) ToolSpec {
	return ToolSpec{
		Name:        "spawn_agent",
		Description: "Spawn a sub-agent to handle a complex sub-task autonomously. The sub-agent has access to all tools (except spawn_agent itself) and runs its own tool loop, then returns its final answer.",
		Args: map[string]ArgSpec{
			"task":       {Type: ArgString, Required: true, Description: "Full description of the task the sub-agent should complete"},
			"context":    {Type: ArgString, Required: false, Description: "Optional background context to give the sub-agent before the task"},
			"provider":   {Type: ArgString, Required: false, Description: "LLM provider name (defaults to the active provider)"},
			"model":      {Type: ArgString, Required: false, Description: "Model name override"},
			"max_rounds": {Type: ArgInteger, Required: false, Description: "Maximum tool-call rounds for the sub-agent (1-5, default 3)"},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			depth := subAgentDepth(ctx)
			if depth >= maxSubAgentDepth {
				return "[ERROR] Maximum sub-agent nesting depth (2) reached. Cannot spawn further sub-agents.", nil
			}

			task, _ := args["task"].(string)
			bgContext, _ := args["context"].(string)
			prov, _ := args["provider"].(string)
			model, _ := args["model"].(string)
			maxRounds := 3
			if n, ok := toInt(args["max_rounds"]); ok {
				maxRounds = clamp(n, 1, 5)
			}

			var msgs []provider.Message
			if bgContext != "" {
				msgs = append(msgs,
					provider.Message{Role: "user", Content: "Context:\n" + bgContext},
					provider.Message{Role: "assistant", Content: "Understood. Ready to work on your task."},
				)
			}
			msgs = append(msgs, provider.Message{Role: "user", Content: task})

			// Clone without spawn_agent to preclude runaway recursion; the
			// shared registry is never mutated.
			subTools := tools.Clone()
			subTools.Remove("spawn_agent")

			subEngine := NewEngine(caller, subTools, nil)
			subCtx := withSubAgentDepth(ctx, depth+1)

			result, err := subEngine.RunToolLoop(subCtx, LoopRequest{
				Provider:    prov,
				Model:       model,
				Messages:    msgs,
				Temperature: 0.7,
				MaxTokens:   2048,
				MaxRounds:   maxRounds,
				UseTools:    true,
			}, Hooks{})
			if err != nil {
				return fmt.Sprintf("[ERROR] spawn_agent failed: %s", err), nil
			}

			content := strings.TrimSpace(result.Content)
			if content == "" {
				content = "(sub-agent returned no content)"
			}
			return fmt.Sprintf("[Sub-agent result — provider=%s]\n%s", firstNonEmpty(prov, result.ActualProvider), content), nil
		},
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
