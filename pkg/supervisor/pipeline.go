// Package supervisor implements the tool-call supervision pipeline:
// schema validation, content-policy filtering, capability checking,
// sanitisation, risk scoring, and manifest-driven approval routing.
//
// The Supervisor is an explicit service value (no package-level
// globals) holding its own queue and registries; the composition root
// wires one instance per process.
package supervisor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/UrHighness01/Intelli-sub000/pkg/capability"
	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// Result is the tagged outcome of ProcessCall; exactly one of the
// Status-specific fields is meaningful per Status.
type Result struct {
	Status     tooltype.Status    `json:"status"`
	Tool       string             `json:"tool,omitempty"`
	Args       map[string]any     `json:"args,omitempty"`
	Risk       tooltype.RiskLevel `json:"risk,omitempty"`
	Message    string             `json:"message,omitempty"`
	ErrorToken string             `json:"error_token,omitempty"`
	Feedback   *Feedback          `json:"feedback,omitempty"`
	ApprovalID int64              `json:"id,omitempty"`
	Denied     []string           `json:"denied_capabilities,omitempty"`
}

// Feedback accompanies a validation_error result.
type Feedback struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Token     string `json:"token"`
}

// AlertSink receives gateway.alert-shaped notifications from the
// pipeline (queue-depth threshold, validation-error rate, etc).
// pkg/webhook.Dispatcher and pkg/audit.Log both satisfy narrower
// interfaces the caller wires together; kept minimal here to avoid an
// import cycle with pkg/webhook.
type AlertSink interface {
	FireApprovalCreated(payload map[string]any)
	FireAlert(alert string, details map[string]any)
}

// AuditSink records privileged actions; see pkg/audit.Log.
type AuditSink interface {
	Record(event, actor string, details map[string]any)
}

// Config holds the tunables the pipeline needs beyond its registries.
type Config struct {
	ApprovalQueueThreshold int // fire gateway.alert{approval_queue_depth} at/above this pending count
}

// Supervisor is the composed pipeline: a schema, a capability registry,
// a content filter, and an approval queue, wired together explicitly
// rather than reached via package-level globals.
type Supervisor struct {
	cfg        Config
	schema     *jsonschema.Schema
	argSchemas map[string]*jsonschema.Schema // tool -> compiled args schema, lazily populated by caller
	caps       *capability.Registry
	filter     *ContentFilter
	queue      *ApprovalQueue
	alerts     AlertSink
	audit      AuditSink
	log        *slog.Logger
}

// globalToolCallSchema is the top-level payload schema: {tool: bounded
// string, args: object}.
const globalToolCallSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["tool", "args"],
	"properties": {
		"tool": {"type": "string", "minLength": 1, "maxLength": 256},
		"args": {"type": "object"}
	}
}`

// New builds a Supervisor with no per-tool args schemas; they are
// installed afterwards with RegisterArgSchema.
func New(cfg Config, caps *capability.Registry, filter *ContentFilter, alerts AlertSink, audit AuditSink, logger *slog.Logger) (*Supervisor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("global.json", strings.NewReader(globalToolCallSchemaJSON)); err != nil {
		return nil, fmt.Errorf("supervisor: compile global schema: %w", err)
	}
	schema, err := compiler.Compile("global.json")
	if err != nil {
		return nil, fmt.Errorf("supervisor: compile global schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:        cfg,
		schema:     schema,
		argSchemas: make(map[string]*jsonschema.Schema),
		caps:       caps,
		filter:     filter,
		queue:      NewApprovalQueue(),
		alerts:     alerts,
		audit:      audit,
		log:        logger,
	}, nil
}

// Queue exposes the approval queue for admin endpoints and the reaper.
func (s *Supervisor) Queue() *ApprovalQueue { return s.queue }

// RegisterArgSchema installs a per-tool args schema (step 2 of the
// pipeline); tools without a registered schema simply skip that step.
func (s *Supervisor) RegisterArgSchema(tool string, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	id := tool + ".json"
	if err := compiler.AddResource(id, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("supervisor: compile schema for %s: %w", tool, err)
	}
	schema, err := compiler.Compile(id)
	if err != nil {
		return fmt.Errorf("supervisor: compile schema for %s: %w", tool, err)
	}
	s.argSchemas[tool] = schema
	return nil
}

// canonicalJSON renders v with sorted keys so the error token below is
// stable across map iteration order.
func canonicalJSON(v any) string {
	b, err := json.Marshal(sortKeysDeep(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortKeysDeep(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = sortKeysDeep(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortKeysDeep(item)
		}
		return out
	default:
		return v
	}
}

// makeValidationError builds the deterministic error_token/feedback
// pair: sha256("<phase>:<message>:<canon_json>") truncated to 12 hex
// chars, letting clients dedupe retries of the same malformed call.
func makeValidationError(phase, message, path string, payload any) Result {
	sum := sha256.Sum256([]byte(phase + ":" + message + ":" + canonicalJSON(payload)))
	token := hex.EncodeToString(sum[:])[:12]
	return Result{
		Status:     tooltype.StatusValidationError,
		ErrorToken: token,
		Feedback: &Feedback{
			ErrorCode: "schema_validation_failed",
			Message:   message,
			Path:      path,
			Token:     token,
		},
	}
}

// toJSONValue round-trips v through encoding/json so map[string]any
// values are in the shape jsonschema.Validate expects (it rejects Go
// structs it doesn't recognise as raw JSON types).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessCall runs the full pipeline, first-match-wins. A non-nil
// error is always a *PolicyViolation — the
// one outcome that is not a process_call Status because it aborts
// processing before a verdict is reached; the HTTP layer maps it to 403
// in pkg/server/errors.go.
func (s *Supervisor) ProcessCall(call tooltype.ToolCall) (Result, error) {
	payload := map[string]any{"tool": call.Tool, "args": call.Args}

	// 1. Global schema validation.
	jv, err := toJSONValue(payload)
	if err != nil {
		return makeValidationError("global", err.Error(), "", payload), nil
	}
	if err := s.schema.Validate(jv); err != nil {
		return makeValidationError("global", err.Error(), "$", payload), nil
	}

	// 2. Per-tool args schema, if one is registered for this tool.
	if argSchema, ok := s.argSchemas[call.Tool]; ok {
		argsJV, err := toJSONValue(call.Args)
		if err != nil {
			return makeValidationError("args", err.Error(), "$.args", payload), nil
		}
		if err := argSchema.Validate(argsJV); err != nil {
			return makeValidationError("args", err.Error(), "$.args", payload), nil
		}
	}

	// 3. Content-policy filter.
	if v := s.filter.Check(call.Args); v != nil {
		s.log.Warn("content policy violation", "rule", v.MatchedRule, "tool", call.Tool)
		return Result{}, v
	}

	// 4. Capability check.
	if s.caps != nil {
		if allowed, denied := s.caps.Check(call.Tool, call.Args); !allowed {
			return Result{
				Status:  tooltype.StatusCapabilityDenied,
				Tool:    call.Tool,
				Denied:  denied,
				Message: "missing required capability or disallowed argument key",
			}, nil
		}
	}

	// 5. Sanitisation.
	sanitizedArgs := SanitizeArgs(call.Args)

	// 6. Risk scoring (independent of routing).
	risk := ComputeRisk(call.Tool, call.Args)

	// 7. Approval routing.
	requiresApproval := risk == tooltype.RiskHigh
	if s.caps != nil {
		if explicit, required := s.caps.RequiresApproval(call.Tool); explicit {
			requiresApproval = required
		}
	}

	if requiresApproval {
		id := s.queue.Submit(call.Tool, sanitizedArgs, risk)
		if s.alerts != nil {
			s.alerts.FireApprovalCreated(map[string]any{"id": id, "tool": call.Tool, "risk": string(risk)})
		}
		s.maybeFireQueueDepthAlert()
		return Result{Status: tooltype.StatusPendingApproval, ApprovalID: id}, nil
	}

	return Result{
		Status:  tooltype.StatusAccepted,
		Tool:    call.Tool,
		Args:    sanitizedArgs,
		Risk:    risk,
		Message: "accepted",
	}, nil
}

func (s *Supervisor) maybeFireQueueDepthAlert() {
	if s.cfg.ApprovalQueueThreshold <= 0 || s.alerts == nil {
		return
	}
	pending := s.queue.PendingCount()
	if pending >= s.cfg.ApprovalQueueThreshold {
		details := map[string]any{
			"alert":             "approval_queue_depth",
			"pending_approvals": pending,
			"threshold":         s.cfg.ApprovalQueueThreshold,
		}
		s.alerts.FireAlert("approval_queue_depth", details)
		if s.audit != nil {
			s.audit.Record("alert_fired", "system", details)
		}
	}
}
