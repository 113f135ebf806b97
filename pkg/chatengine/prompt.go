package chatengine

import (
	"fmt"
	"sort"
	"strings"
)

// promptSectionSep joins the ordered system-prompt sections.
const promptSectionSep = "\n\n---\n\n"

// PersonaProvider resolves a persona slug to its rendered
// system-prompt block.
type PersonaProvider interface {
	BuildSystemPrompt(slug string) string
}

// WorkspaceProvider resolves the workspace identity block (AGENTS.md +
// SOUL.md), optionally including the tool-use block.
type WorkspaceProvider interface {
	BuildSystemPrompt(includeTools bool) string
}

// PageSnapshot is the last active-tab snapshot used for the page
// context block.
type PageSnapshot struct {
	URL   string
	Title string
	HTML  string
}

// MemorySearchResult is one hit from the relevant-memory search.
type MemorySearchResult struct {
	Source    string
	URL       string
	Title     string
	Age       string
	Snippet   string
}

// MemorySearcher performs the relevant-memory search step. It is
// optional — a gateway with no vector memory backend wired simply
// passes nil and the block is omitted.
type MemorySearcher interface {
	Search(query string, k int) []MemorySearchResult
}

// PromptOptions controls which system-prompt sections are assembled.
type PromptOptions struct {
	Persona        string
	UseWorkspace   bool
	UseTools       bool
	ExtraSystem    string
	Page           *PageSnapshot
	PageHTMLCap    int // bytes; default 8192
	LatestUserText string
	MemoryK        int // default 4
}

// defaultPageHTMLCap bounds how much page HTML the prompt carries.
const defaultPageHTMLCap = 8 * 1024

// buildPageContextBlock renders the last active-tab snapshot, HTML
// truncated to the configured cap, grounded on workspace_manager.py's
// build_page_context_block.
func buildPageContextBlock(p *PageSnapshot, cap int) string {
	if p == nil {
		return ""
	}
	if cap <= 0 {
		cap = defaultPageHTMLCap
	}
	html := p.HTML
	if len(html) > cap {
		html = html[:cap] + fmt.Sprintf("\n\n[... HTML truncated at %d chars ...]", cap)
	}
	return fmt.Sprintf(
		"## Active browser tab\n**URL**: %s\n**Title**: %s\n\n### Page HTML source\n```html\n%s\n```",
		p.URL, p.Title, html,
	)
}

// buildMemoryBlock formats search results as labelled snippets,
// grounded on memory_store.py's build_memory_context.
func buildMemoryBlock(results []MemorySearchResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"## Relevant memories"}
	for _, r := range results {
		label := fmt.Sprintf("[%s] %s (%s)", r.Source, firstNonEmpty(r.URL, r.Title), r.Age)
		lines = append(lines, fmt.Sprintf("- %s: %s", label, r.Snippet))
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildToolUseBlock renders the tool-call protocol instructions plus
// the enumerated tool list with typed arg schemas, grounded on
// tool_runner.py's build_tool_system_block.
func buildToolUseBlock(reg *Registry) string {
	if reg == nil {
		return ""
	}
	var lines []string
	for _, spec := range reg.List() {
		var argLines []string
		for _, name := range sortedArgs(spec.Args) {
			arg := spec.Args[name]
			req := ""
			if !arg.Required {
				req = " (optional)"
			}
			argLines = append(argLines, fmt.Sprintf("    %q: %s%s — %s", name, arg.Type, req, arg.Description))
		}
		argsStr := "    (none)"
		if len(argLines) > 0 {
			argsStr = strings.Join(argLines, "\n")
		}
		lines = append(lines, fmt.Sprintf("• %s\n  Description: %s\n  Args:\n%s", spec.Name, spec.Description, argsStr))
	}
	toolsBlock := strings.Join(lines, "\n\n")

	return "## Available Tools\n\n" +
		"You may call tools to look up information, fetch data, or perform actions.\n" +
		"To call a tool, output EXACTLY this format (one call per line, valid JSON):\n\n" +
		"    TOOL_CALL: {\"name\": \"<tool_name>\", \"args\": {<arg>: <value>}}\n\n" +
		"The gateway will execute the tool and return the result in a new message prefixed with:\n\n" +
		"    TOOL_RESULT [<tool_name>]: <result>\n\n" +
		"Rules:\n" +
		"- Only call tools when you need external information not already in context.\n" +
		"- After receiving TOOL_RESULT, synthesize it into your final answer.\n" +
		"- If a tool call fails, say so and use what you know.\n" +
		"- Do NOT fabricate tool results.\n\n" +
		"### Tools\n\n" + toolsBlock
}

// sortedArgs returns the argument names of args in sorted order, so the
// rendered tool block is deterministic.
func sortedArgs(args map[string]ArgSpec) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildSystemPrompt assembles the full ordered system prompt: persona,
// workspace, page context, caller system text, relevant memory, tool
// protocol.
func BuildSystemPrompt(opts PromptOptions, persona PersonaProvider, workspace WorkspaceProvider, memory MemorySearcher, tools *Registry) string {
	var sections []string

	if opts.Persona != "" && persona != nil {
		if block := persona.BuildSystemPrompt(opts.Persona); block != "" {
			sections = append(sections, block)
		}
	}

	if opts.UseWorkspace && workspace != nil {
		if block := workspace.BuildSystemPrompt(false); block != "" {
			sections = append(sections, block)
		}
	}

	if block := buildPageContextBlock(opts.Page, opts.PageHTMLCap); block != "" {
		sections = append(sections, block)
	}

	if opts.ExtraSystem != "" {
		sections = append(sections, opts.ExtraSystem)
	}

	if memory != nil && opts.LatestUserText != "" {
		k := opts.MemoryK
		if k <= 0 {
			k = 4
		}
		if block := buildMemoryBlock(memory.Search(opts.LatestUserText, k)); block != "" {
			sections = append(sections, block)
		}
	}

	if opts.UseTools {
		if block := buildToolUseBlock(tools); block != "" {
			sections = append(sections, block)
		}
	}

	return strings.Join(sections, promptSectionSep)
}
