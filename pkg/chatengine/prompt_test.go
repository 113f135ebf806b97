package chatengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePersonaProvider struct{ block string }

func (f fakePersonaProvider) BuildSystemPrompt(slug string) string { return f.block }

type fakeWorkspaceProvider struct{ block string }

func (f fakeWorkspaceProvider) BuildSystemPrompt(includeTools bool) string { return f.block }

type fakeMemorySearcher struct{ results []MemorySearchResult }

func (f fakeMemorySearcher) Search(query string, k int) []MemorySearchResult { return f.results }

func TestBuildSystemPrompt_OrdersSectionsPerSpec(t *testing.T) {
	tools := NewRegistry()
	tools.Register(ToolSpec{Name: "ping", Description: "pings something", Args: map[string]ArgSpec{}})

	opts := PromptOptions{
		Persona:        "intelli",
		UseWorkspace:   true,
		UseTools:       true,
		ExtraSystem:    "extra caller text",
		LatestUserText: "what did I read yesterday",
		Page:           &PageSnapshot{URL: "https://example.com", Title: "Example", HTML: "<p>hi</p>"},
	}
	prompt := BuildSystemPrompt(opts,
		fakePersonaProvider{block: "PERSONA_BLOCK"},
		fakeWorkspaceProvider{block: "WORKSPACE_BLOCK"},
		fakeMemorySearcher{results: []MemorySearchResult{{Source: "web", URL: "https://x", Snippet: "snippet text"}}},
		tools,
	)

	personaIdx := strings.Index(prompt, "PERSONA_BLOCK")
	workspaceIdx := strings.Index(prompt, "WORKSPACE_BLOCK")
	pageIdx := strings.Index(prompt, "Active browser tab")
	extraIdx := strings.Index(prompt, "extra caller text")
	memoryIdx := strings.Index(prompt, "Relevant memories")
	toolsIdx := strings.Index(prompt, "Available Tools")

	assert.True(t, personaIdx < workspaceIdx)
	assert.True(t, workspaceIdx < pageIdx)
	assert.True(t, pageIdx < extraIdx)
	assert.True(t, extraIdx < memoryIdx)
	assert.True(t, memoryIdx < toolsIdx)
}

func TestBuildSystemPrompt_OmitsEmptySections(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{}, nil, nil, nil, nil)
	assert.Empty(t, prompt)
}

func TestBuildPageContextBlock_TruncatesHTMLAtCap(t *testing.T) {
	html := strings.Repeat("x", 100)
	block := buildPageContextBlock(&PageSnapshot{URL: "u", Title: "t", HTML: html}, 10)
	assert.Contains(t, block, "truncated at 10 chars")
	assert.NotContains(t, block, strings.Repeat("x", 100))
}

func TestBuildToolUseBlock_ListsRegisteredTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolSpec{Name: "web_search", Description: "search the web", Args: map[string]ArgSpec{
		"query": {Type: ArgString, Required: true, Description: "search terms"},
	}})
	block := buildToolUseBlock(reg)
	assert.Contains(t, block, "web_search")
	assert.Contains(t, block, "search the web")
	assert.Contains(t, block, "TOOL_CALL:")
}
