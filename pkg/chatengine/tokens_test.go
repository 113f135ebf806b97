package chatengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

func TestContextLimitFor(t *testing.T) {
	assert.Equal(t, 200_000, ContextLimitFor("claude-sonnet-4"))
	assert.Equal(t, 1_000_000, ContextLimitFor("gemini-2.0-flash"))
	assert.Equal(t, 128_000, ContextLimitFor("gpt-4o-mini"))
	assert.Equal(t, 128_000, ContextLimitFor("unknown-model"))
}

func newCounter(t *testing.T) *TokenCounter {
	t.Helper()
	c, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Skipf("tokenizer data unavailable: %v", err)
	}
	return c
}

func TestTokenCounterCount(t *testing.T) {
	c := newCounter(t)

	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("the quick brown fox jumps over the lazy dog"), 5)

	msgs := []provider.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hello"},
	}
	n := c.CountMessages(msgs)
	assert.Greater(t, n, 2*perMessageOverhead)
}

func TestCompactShortListUnchanged(t *testing.T) {
	c := newCounter(t)

	msgs := []provider.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	res, err := c.CompactMessages(context.Background(), nil, "openai", "gpt-4o", msgs)
	require.NoError(t, err)
	assert.Equal(t, msgs, res.Messages)
	assert.Empty(t, res.Summary)
	assert.Zero(t, res.TokensSaved)
}

type summaryCaller struct{ summary string }

func (s *summaryCaller) ChatComplete(_ context.Context, _ string, _ provider.Request) (provider.Result, error) {
	return provider.Result{Content: s.summary}, nil
}

func TestCompactSplicesSummary(t *testing.T) {
	c := newCounter(t)

	msgs := []provider.Message{{Role: "system", Content: "be helpful"}}
	for i := 0; i < 12; i++ {
		msgs = append(msgs,
			provider.Message{Role: "user", Content: "a long message about the migration plan and its many steps"},
			provider.Message{Role: "assistant", Content: "an equally long reply describing what was done in detail"},
		)
	}

	res, err := c.CompactMessages(context.Background(), &summaryCaller{summary: "they planned a migration"}, "openai", "gpt-4o", msgs)
	require.NoError(t, err)

	// system + summary + the recent tail
	require.Len(t, res.Messages, 1+1+compactKeepRecent)
	assert.Equal(t, "system", res.Messages[0].Role)
	assert.Contains(t, res.Messages[1].Content, "[Conversation summary]")
	assert.Contains(t, res.Messages[1].Content, "they planned a migration")
	assert.Equal(t, "they planned a migration", res.Summary)
	assert.Greater(t, res.TokensSaved, 0)
}
