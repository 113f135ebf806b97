package chatengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// fakeCaller scripts a sequence of responses, one per ChatComplete call.
type fakeCaller struct {
	responses []provider.Result
	calls     int
}

func (f *fakeCaller) ChatComplete(ctx context.Context, primaryProvider string, req provider.Request) (provider.Result, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func TestRunToolLoop_NoToolCallReturnsImmediately(t *testing.T) {
	caller := &fakeCaller{responses: []provider.Result{{Content: "just an answer"}}}
	eng := NewEngine(caller, NewRegistry(), nil)

	res, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 3}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "just an answer", res.Content)
	assert.Equal(t, 1, caller.calls)
}

func TestRunToolLoop_ExecutesToolThenReturnsFinalAnswer(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "echo",
		Args: map[string]ArgSpec{"text": {Type: ArgString, Required: true}},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("echoed: %v", args["text"]), nil
		},
	})
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `Let me check.
TOOL_CALL: {"name": "echo", "args": {"text": "hi"}}`},
		{Content: "Final answer using tool result."},
	}}
	eng := NewEngine(caller, reg, nil)

	var toolCalls, toolResults []string
	hooks := Hooks{
		OnToolCall:   func(name string, args map[string]any) { toolCalls = append(toolCalls, name) },
		OnToolResult: func(name, result string) { toolResults = append(toolResults, result) },
	}

	res, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 3}, hooks)
	require.NoError(t, err)
	assert.Equal(t, "Final answer using tool result.", res.Content)
	assert.Equal(t, 2, caller.calls)
	assert.Equal(t, []string{"echo"}, toolCalls)
	assert.Equal(t, []string{"echoed: hi"}, toolResults)
}

func TestRunToolLoop_UnknownToolProducesErrorResultButContinues(t *testing.T) {
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "nope", "args": {}}`},
		{Content: "done"},
	}}
	eng := NewEngine(caller, NewRegistry(), nil)

	res, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 3}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
}

func TestRunToolLoop_MissingRequiredArgReturnsErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "needs_arg",
		Args: map[string]ArgSpec{"x": {Type: ArgString, Required: true}},
		Fn:   func(ctx context.Context, args map[string]any) (string, error) { return "should not run", nil },
	})
	var results []string
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "needs_arg", "args": {}}`},
		{Content: "final"},
	}}
	eng := NewEngine(caller, reg, nil)
	_, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 3}, Hooks{
		OnToolResult: func(name, result string) { results = append(results, result) },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "[ERROR]")
	assert.Contains(t, results[0], "missing required arg")
}

func TestRunToolLoop_RoundCapStopsLoopAndReturnsLastResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "loopy",
		Fn:   func(ctx context.Context, args map[string]any) (string, error) { return "again", nil },
	})
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "loopy", "args": {}}`},
	}}
	eng := NewEngine(caller, reg, nil)

	res, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 2}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
	// Last round's response still had a tool call in it — stripped for display.
	assert.Empty(t, res.Content)
}

func TestRunToolLoop_ApprovalDenialProducesDeniedResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "shell_exec",
		Fn:   func(ctx context.Context, args map[string]any) (string, error) { return "ran", nil },
	})
	gate := NewApprovalGate()
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "shell_exec", "args": {}}`},
		{Content: "final"},
	}}
	eng := NewEngine(caller, reg, gate)

	var results []string
	_, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 3, SessionID: "s1"}, Hooks{
		OnApprovalWait: func(id int64, tool string, args map[string]any, sessionID string, expiresIn int) {
			gate.Reject(id)
		},
		OnToolResult: func(name, result string) { results = append(results, result) },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "[DENIED]")
}

func TestMaxRounds_OverrideClampedToCap(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{Name: "loopy", Fn: func(ctx context.Context, args map[string]any) (string, error) { return "x", nil }})
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "loopy", "args": {}}`},
	}}
	eng := NewEngine(caller, reg, nil)
	_, err := eng.RunToolLoop(context.Background(), LoopRequest{UseTools: true, MaxRounds: 999}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, maxRoundsCap, caller.calls)
}

func TestSpawnAgentTool_DepthCapReached(t *testing.T) {
	tools := NewRegistry()
	caller := &fakeCaller{responses: []provider.Result{{Content: "sub answer"}}}
	spawn := SpawnAgentTool(caller, tools)

	ctx := withSubAgentDepth(context.Background(), maxSubAgentDepth)
	out, err := spawn.Fn(ctx, map[string]any{"task": "do x"})
	require.NoError(t, err)
	assert.Contains(t, out, "Maximum sub-agent nesting depth")
}

func TestSpawnAgentTool_RunsIsolatedLoopAndReturnsResult(t *testing.T) {
	tools := NewRegistry()
	caller := &fakeCaller{responses: []provider.Result{{Content: "sub agent final answer", ActualProvider: "openai"}}}
	spawn := SpawnAgentTool(caller, tools)

	out, err := spawn.Fn(context.Background(), map[string]any{"task": "research x"})
	require.NoError(t, err)
	assert.Contains(t, out, "sub agent final answer")
	assert.Contains(t, out, "openai")
}

func TestSpawnAgentTool_OmittedFromSubRegistry(t *testing.T) {
	tools := NewRegistry()
	tools.Register(SpawnAgentTool(nil, tools))
	sub := tools.Clone()
	sub.Remove("spawn_agent")
	_, ok := sub.Get("spawn_agent")
	assert.False(t, ok)
	_, ok = tools.Get("spawn_agent")
	assert.True(t, ok)
}
