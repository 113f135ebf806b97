package chatengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// perMessageOverhead approximates the framing tokens each chat message
// costs beyond its content.
const perMessageOverhead = 4

// compactKeepRecent is how many trailing messages survive compaction
// verbatim.
const compactKeepRecent = 6

// TokenCounter estimates token usage with a tiktoken encoding. Counts
// are estimates for non-OpenAI models, which is all the compaction
// heuristics need.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter resolves the encoding for model, falling back to
// cl100k_base when the model is unknown to tiktoken.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("chatengine: no usable tokenizer: %w", err)
		}
	}
	return &TokenCounter{enc: enc}, nil
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns the estimated prompt size of a message list.
func (c *TokenCounter) CountMessages(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Content) + perMessageOverhead
	}
	return total
}

// ContextLimitFor returns the context window for a model name, matched
// by vendor substring.
func ContextLimitFor(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return 200_000
	case strings.Contains(m, "gemini"):
		return 1_000_000
	case strings.Contains(m, "gpt-4o"), strings.Contains(m, "gpt-4-turbo"):
		return 128_000
	case strings.Contains(m, "gpt-3.5"):
		return 16_384
	default:
		return 128_000
	}
}

// UsageFraction returns how much of model's context window msgs occupy.
func (c *TokenCounter) UsageFraction(msgs []provider.Message, model string) float64 {
	limit := ContextLimitFor(model)
	return float64(c.CountMessages(msgs)) / float64(limit)
}

// CompactResult is what CompactMessages returns: the shortened list
// with a summary block standing in for the dropped middle.
type CompactResult struct {
	Messages    []provider.Message
	Summary     string
	TokensSaved int
}

// CompactMessages summarizes everything but the leading system message
// and the last few turns via one provider call, and splices the summary
// in as a system message. Lists short enough to keep whole are returned
// unchanged with an empty summary.
func (c *TokenCounter) CompactMessages(ctx context.Context, caller Caller, providerName, model string, msgs []provider.Message) (CompactResult, error) {
	var system []provider.Message
	rest := msgs
	if len(rest) > 0 && rest[0].Role == "system" {
		system = rest[:1]
		rest = rest[1:]
	}
	if len(rest) <= compactKeepRecent {
		return CompactResult{Messages: msgs}, nil
	}

	old := rest[:len(rest)-compactKeepRecent]
	recent := rest[len(rest)-compactKeepRecent:]

	var transcript strings.Builder
	for _, m := range old {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	result, err := caller.ChatComplete(ctx, providerName, provider.Request{
		Model: model,
		Messages: []provider.Message{{
			Role: "user",
			Content: "Summarize the following conversation so it can replace the original messages. " +
				"Preserve decisions, facts, open tasks, and tool results. Be concise.\n\n" +
				transcript.String(),
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		return CompactResult{}, err
	}

	summaryMsg := provider.Message{
		Role:    "system",
		Content: "[Conversation summary]\n" + result.Content,
	}

	compacted := make([]provider.Message, 0, len(system)+1+len(recent))
	compacted = append(compacted, system...)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, recent...)

	saved := c.CountMessages(msgs) - c.CountMessages(compacted)
	if saved < 0 {
		saved = 0
	}
	return CompactResult{
		Messages:    compacted,
		Summary:     result.Content,
		TokensSaved: saved,
	}, nil
}
