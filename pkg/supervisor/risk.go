package supervisor

import (
	"regexp"

	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// highRiskTools and mediumRiskTools are the fixed tool-identity tiers
// of the risk scorer; argument content can only raise, never lower,
// the resulting level.
var highRiskTools = map[string]bool{
	"system.exec":     true,
	"system.update":   true,
	"system.kill":     true,
	"file.write":      true,
	"file.delete":     true,
	"file.chmod":      true,
	"network.request": true,
	"network.proxy":   true,
}

var mediumRiskTools = map[string]bool{
	"file.read":       true,
	"file.list":       true,
	"system.env":      true,
	"clipboard.read":  true,
	"browser.cookies": true,
}

// sensitiveArgPattern flags path traversal, shell/SQL injection, and
// similarly dangerous argument values. riskyArgKeyPattern flags argument
// *names* that typically carry such payloads.
var (
	sensitiveArgPattern = regexp.MustCompile(
		`(?i)(\.\.(/|\\)|/etc/|/proc/|/sys/|cmd\.exe|powershell|eval\(|exec\(|` +
			`\b(select|insert|update|delete|drop|alter|create)\b|rm\s+-rf|format\s+c)`)
	riskyArgKeyPattern = regexp.MustCompile(`(?i)(command|cmd|exec|shell|script|query|sql|path|file|url)`)
)

// scoreArgs accumulates per (key, value) pair: +2 for a
// sensitive-pattern value, +1 for a risky key name, +1 for an
// over-length string value.
func scoreArgs(args map[string]any) int {
	score := 0
	for key, val := range args {
		if riskyArgKeyPattern.MatchString(key) {
			score++
		}
		if s, ok := val.(string); ok {
			if sensitiveArgPattern.MatchString(s) {
				score += 2
			}
			if len(s) > 512 {
				score++
			}
		}
	}
	return score
}

// ComputeRisk maps a tool name and its args to a deterministic risk level.
func ComputeRisk(tool string, args map[string]any) tooltype.RiskLevel {
	argScore := scoreArgs(args)

	if highRiskTools[tool] {
		return tooltype.RiskHigh
	}
	if argScore >= 2 {
		return tooltype.RiskHigh
	}
	if mediumRiskTools[tool] || argScore >= 1 {
		return tooltype.RiskMedium
	}
	return tooltype.RiskLow
}

// sensitiveKeyPattern drives Sanitize's redaction of secret-shaped
// values, matching the Supervisor.SENSITIVE_KEYS pattern.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|api_key|cvv|card|ssn|credentials)`)

const redactedValue = "[REDACTED]"

// Sanitize recursively masks any value whose key matches the
// sensitive-key pattern. The input is not mutated; a deep copy is
// returned.
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if sensitiveKeyPattern.MatchString(k) {
				out[k] = redactedValue
			} else {
				out[k] = Sanitize(item)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeArgs is the map[string]any-typed entry point used by the
// pipeline on a ToolCall's Args.
func SanitizeArgs(args map[string]any) map[string]any {
	sanitized := Sanitize(args)
	m, ok := sanitized.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
