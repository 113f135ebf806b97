package server

import (
	"net/http"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// handleValidate runs the full supervision pipeline without side
// effects on the approval queue being the caller's concern — the
// verdict is identical to /tools/call, and a pending_approval outcome
// is still enqueued.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.supervise(w, r)
}

// handleToolCall is the kill-switch-guarded production entry point.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if armed, reason := s.kill.State(); armed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  "gateway kill-switch is active",
			"reason": reason,
		})
		return
	}
	s.supervise(w, r)
}

func (s *Server) supervise(w http.ResponseWriter, r *http.Request) {
	var call tooltype.ToolCall
	if !decodeBody(w, r, &call) {
		return
	}

	// Per-user tool allow-list precedes the pipeline: a restricted user
	// never reaches validation for a tool they cannot use.
	if id, ok := IdentityFrom(r.Context()); ok && id.AllowedTools != nil {
		permitted := false
		for _, t := range id.AllowedTools {
			if t == call.Tool {
				permitted = true
				break
			}
		}
		if !permitted {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"status": "tool_not_permitted",
				"tool":   call.Tool,
			})
			return
		}
	}

	start := time.Now()
	result, err := s.Supervisor.ProcessCall(call)
	if err != nil {
		s.recordToolCall(call.Tool, "content_policy_violation", "", start)
		writeError(w, err, false)
		return
	}

	switch result.Status {
	case tooltype.StatusValidationError:
		if s.AlertMonitor != nil {
			s.AlertMonitor.RecordValidationError(time.Now())
		}
		if s.Observability != nil && s.Observability.Metrics() != nil {
			s.Observability.Metrics().RecordValidationError()
		}
	case tooltype.StatusPendingApproval:
		s.broker.Publish(ApprovalEvent{Type: "created", ID: result.ApprovalID, Tool: call.Tool})
		s.publishPendingGauge()
	}
	s.recordToolCall(call.Tool, string(result.Status), string(result.Risk), start)

	writePipelineResult(w, result)
}

func (s *Server) recordToolCall(tool, outcome, risk string, start time.Time) {
	if s.Observability != nil && s.Observability.Metrics() != nil {
		s.Observability.Metrics().RecordToolCall(tool, outcome, risk, time.Since(start))
	}
}

func (s *Server) publishPendingGauge() {
	if s.Observability != nil && s.Observability.Metrics() != nil {
		s.Observability.Metrics().SetApprovalsPending(s.Supervisor.Queue().PendingCount())
	}
}

// handleCapabilities lists the boot allow-set and every known manifest;
// with ?tool= it answers for one tool, including a nearest-match
// suggestion when the tool is unknown.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if tool := r.URL.Query().Get("tool"); tool != "" {
		if man, ok := s.Caps.Get(tool); ok {
			writeJSON(w, http.StatusOK, map[string]any{"tool": tool, "manifest": man})
			return
		}
		var extra []string
		if s.Tools != nil {
			for _, spec := range s.Tools.List() {
				extra = append(extra, spec.Name)
			}
		}
		body := map[string]any{"detail": "unknown tool: " + tool}
		if suggestion := s.Caps.Suggest(tool, extra); suggestion != "" {
			body["suggestion"] = suggestion
		}
		writeJSON(w, http.StatusNotFound, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allow_set": s.Caps.AllowSet(),
		"tools":     s.Caps.KnownTools(),
	})
}
