package chatengine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maxToolCallJSON bounds how many characters are scanned per TOOL_CALL
// occurrence, so a runaway unterminated object cannot hold the parser.
const maxToolCallJSON = 16 * 1024

// toolCallAnchor matches the literal "TOOL_CALL:" followed by the
// opening brace of its JSON body. The body itself is never captured by
// the regex — it is extracted by brace-counting below so a non-greedy
// regex never truncates a nested {"args": {...}} object.
var toolCallAnchor = regexp.MustCompile(`(?i)TOOL_CALL\s*:\s*\{`)

// toolCallLine strips whole TOOL_CALL lines from displayed content.
var toolCallLine = regexp.MustCompile(`(?im)^\s*TOOL_CALL\s*:.*$`)

// ParsedCall is one TOOL_CALL occurrence extracted from an LLM
// response.
type ParsedCall struct {
	Name string
	Args map[string]any
}

// ExtractToolCalls returns every well-formed TOOL_CALL JSON object in
// text, in the order they appear. Malformed or incomplete JSON at an
// anchor is silently skipped — the model gets another chance on the
// next round.
func ExtractToolCalls(text string) []ParsedCall {
	var calls []ParsedCall
	for _, loc := range toolCallAnchor.FindAllStringIndex(text, -1) {
		// loc[1] is just past the matched '{' the regex ends on; back up
		// one rune so brace-counting sees that opening brace too.
		start := loc[1] - 1
		end := start + maxToolCallJSON
		if end > len(text) {
			end = len(text)
		}
		fragment := text[start:end]
		jsonEnd := balancedObjectEnd(fragment)
		if jsonEnd == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(fragment[:jsonEnd]), &obj); err != nil {
			continue
		}
		name, _ := obj["tool"].(string)
		if name == "" {
			name, _ = obj["name"].(string)
		}
		if name == "" {
			continue
		}
		args, _ := obj["args"].(map[string]any)
		calls = append(calls, ParsedCall{Name: name, Args: args})
	}
	return calls
}

// balancedObjectEnd returns the index just past the closing brace that
// balances the first '{' in s, honoring quoted strings and backslash
// escapes, or 0 if the braces never balance within s.
func balancedObjectEnd(s string) int {
	depth := 0
	inString := false
	escapeNext := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' && inString {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}

// StripToolCallLines removes every TOOL_CALL: line from text and trims
// the remaining narration, matching the displayed-content cleanup step
// of the loop.
func StripToolCallLines(text string) string {
	return strings.TrimSpace(toolCallLine.ReplaceAllString(text, ""))
}
