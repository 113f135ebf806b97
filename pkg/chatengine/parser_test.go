package chatengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToolCalls_SingleCall(t *testing.T) {
	text := `I'll look that up.
TOOL_CALL: {"name": "web_search", "args": {"query": "golang generics"}}
`
	calls := ExtractToolCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "web_search", calls[0].Name)
	assert.Equal(t, "golang generics", calls[0].Args["query"])
}

func TestExtractToolCalls_NestedArgsNeverTruncated(t *testing.T) {
	text := `TOOL_CALL: {"name": "canvas_render", "args": {"html": "<div>{\"nested\": true}</div>", "title": "demo"}}`
	calls := ExtractToolCalls(text)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args["html"], "nested")
	assert.Equal(t, "demo", calls[0].Args["title"])
}

func TestExtractToolCalls_MultipleCallsInOrder(t *testing.T) {
	text := `TOOL_CALL: {"tool": "a", "args": {}}
some narration
TOOL_CALL: {"tool": "b", "args": {"x": 1}}`
	calls := ExtractToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
}

func TestExtractToolCalls_MalformedJSONSkipped(t *testing.T) {
	text := `TOOL_CALL: {"tool": "broken", "args": {not valid json}`
	calls := ExtractToolCalls(text)
	assert.Empty(t, calls)
}

func TestExtractToolCalls_NoCallsReturnsEmpty(t *testing.T) {
	calls := ExtractToolCalls("just a normal final answer with no calls")
	assert.Empty(t, calls)
}

func TestStripToolCallLines_RemovesCallLineKeepsNarration(t *testing.T) {
	text := "Here is my plan.\nTOOL_CALL: {\"tool\": \"x\", \"args\": {}}\nDone."
	out := StripToolCallLines(text)
	assert.Equal(t, "Here is my plan.\n\nDone.", out)
}
