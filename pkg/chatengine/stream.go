package chatengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// streamEventBuffer is the bounded channel capacity between the loop
// worker and the SSE reader.
const streamEventBuffer = 64

// keepaliveInterval is how often a ": keepalive" SSE comment is pumped to keep
// intermediaries from timing out a long approval wait.
const keepaliveInterval = 10 * time.Second

// Event is the union of every SSE frame the chat stream can emit.
// Exactly one "kind" of event is populated per value; Done
// distinguishes terminal token frames from the narration-only tool
// events, which omit it entirely.
type Event struct {
	Type string `json:"type,omitempty"`

	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	ID        int64          `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	ExpiresIn int            `json:"expires_in,omitempty"`
	Slug      string         `json:"slug,omitempty"`
	Name      string         `json:"name,omitempty"`

	Token string `json:"token,omitempty"`
	Done  *bool  `json:"done,omitempty"`

	Content        string `json:"content,omitempty"`
	Model          string `json:"model,omitempty"`
	PromptTokens   int    `json:"prompt_tokens,omitempty"`
	TotalTokens    int    `json:"total_tokens,omitempty"`
	Provider       string `json:"provider,omitempty"`
	FailoverUsed   bool   `json:"failover_used,omitempty"`
	ActualProvider string `json:"actual_provider,omitempty"`
	ActualModel    string `json:"actual_model,omitempty"`
	FailoverReason string `json:"failover_reason,omitempty"`

	Error string `json:"error,omitempty"`
}

// toolResultTruncateLen is the display cap for tool_result events; the
// model still sees the full result in its TOOL_RESULT message.
const toolResultTruncateLen = 400

func boolPtr(b bool) *bool { return &b }

// StreamChatComplete runs the tool loop in a worker goroutine and
// returns a channel of Events: tool_call/tool_result/approval_required
// narration events while the loop runs, then word-chunked {token,
// done:false} events, then a terminal {..., done:true} event. The
// channel is closed after the terminal or error event is sent.
func StreamChatComplete(ctx context.Context, engine *Engine, req LoopRequest) <-chan Event {
	events := make(chan Event, streamEventBuffer)

	go func() {
		defer close(events)

		hooks := Hooks{
			OnToolCall: func(name string, args map[string]any) {
				events <- Event{Type: "tool_call", Tool: name, Args: args}
			},
			OnToolResult: func(name, result string) {
				truncated := result
				if len(truncated) > toolResultTruncateLen {
					truncated = truncated[:toolResultTruncateLen]
				}
				events <- Event{Type: "tool_result", Tool: name, Result: truncated}
			},
			OnApprovalWait: func(id int64, tool string, args map[string]any, sessionID string, expiresIn int) {
				events <- Event{Type: "approval_required", ID: id, Tool: tool, Args: args, SessionID: sessionID, ExpiresIn: expiresIn}
			},
		}

		result, err := engine.RunToolLoop(ctx, req, hooks)
		if err != nil {
			events <- Event{Error: err.Error(), Done: boolPtr(true)}
			return
		}

		for i, word := range strings.Fields(result.Content) {
			token := word
			if i > 0 {
				token = " " + word
			}
			events <- Event{Token: token, Done: boolPtr(false)}
		}

		events <- terminalEvent(result, req.SessionID)
	}()

	return events
}

func terminalEvent(result provider.Result, sessionID string) Event {
	return Event{
		Content:        result.Content,
		Model:          result.Model,
		Provider:       result.Provider,
		SessionID:      sessionID,
		FailoverUsed:   result.FailoverUsed,
		ActualProvider: result.ActualProvider,
		ActualModel:    result.ActualModel,
		FailoverReason: result.FailoverReason,
		TotalTokens:    result.Tokens,
		Done:           boolPtr(true),
	}
}

// WriteSSE drains events onto w as "data: <json>\n\n" frames, pumping a
// ": keepalive" SSE comment every keepaliveInterval so intermediaries don't
// time out a long approval wait. It returns when events closes or ctx
// is cancelled (client disconnect) — on disconnect the underlying
// worker goroutine is left to run to completion and its remaining
// events are discarded.
func WriteSSE(ctx context.Context, w *bufio.Writer, flush func(), events <-chan Event) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(ev); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
				return err
			}
			flush()
		case <-ticker.C:
			if _, err := w.WriteString(": keepalive\n\n"); err != nil {
				return err
			}
			flush()
		}
	}
}
