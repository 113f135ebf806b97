package chatengine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

func TestStreamChatComplete_TokenEventsReconstructFinalContent(t *testing.T) {
	caller := &fakeCaller{responses: []provider.Result{{Content: "alpha beta gamma delta"}}}
	eng := NewEngine(caller, NewRegistry(), nil)

	events := StreamChatComplete(context.Background(), eng, LoopRequest{UseTools: true, MaxRounds: 1})

	var tokens []string
	var final *Event
	for ev := range events {
		if ev.Done != nil && *ev.Done && ev.Error == "" {
			e := ev
			final = &e
			continue
		}
		if ev.Token != "" {
			tokens = append(tokens, ev.Token)
			require.NotNil(t, ev.Done)
			assert.False(t, *ev.Done)
		}
	}

	require.NotNil(t, final)
	assert.Equal(t, "alpha beta gamma delta", strings.Join(tokens, ""))
	assert.Equal(t, "alpha beta gamma delta", final.Content)
	assert.True(t, *final.Done)
}

func TestStreamChatComplete_ToolEventsEmittedBeforeTokens(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "echo",
		Args: map[string]ArgSpec{"text": {Type: ArgString}},
		Fn:   func(ctx context.Context, args map[string]any) (string, error) { return "result text", nil },
	})
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "echo", "args": {"text": "hi"}}`},
		{Content: "final answer"},
	}}
	eng := NewEngine(caller, reg, nil)

	events := StreamChatComplete(context.Background(), eng, LoopRequest{UseTools: true, MaxRounds: 3})

	var types []string
	for ev := range events {
		if ev.Type != "" {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []string{"tool_call", "tool_result"}, types)
}

func TestStreamChatComplete_ErrorProducesErrorDoneEvent(t *testing.T) {
	errCaller := errCaller{err: errors.New("upstream failure")}
	eng := NewEngine(errCaller, NewRegistry(), nil)

	events := StreamChatComplete(context.Background(), eng, LoopRequest{UseTools: true, MaxRounds: 1})

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "upstream failure", got[0].Error)
	assert.True(t, *got[0].Done)
}

type errCaller struct{ err error }

func (e errCaller) ChatComplete(ctx context.Context, primaryProvider string, req provider.Request) (provider.Result, error) {
	return provider.Result{}, e.err
}

func TestStreamChatComplete_ToolResultTruncatedForDisplay(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{
		Name: "big",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return strings.Repeat("x", toolResultTruncateLen+100), nil
		},
	})
	caller := &fakeCaller{responses: []provider.Result{
		{Content: `TOOL_CALL: {"name": "big", "args": {}}`},
		{Content: "done"},
	}}
	eng := NewEngine(caller, reg, nil)

	events := StreamChatComplete(context.Background(), eng, LoopRequest{UseTools: true, MaxRounds: 3})
	for ev := range events {
		if ev.Type == "tool_result" {
			assert.LessOrEqual(t, len(ev.Result), toolResultTruncateLen)
		}
	}
}
