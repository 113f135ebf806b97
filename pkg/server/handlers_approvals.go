package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/UrHighness01/Intelli-sub000/pkg/supervisor"
)

func approvalID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	queue := s.Supervisor.Queue()
	var items []supervisor.ApprovalRequest
	if r.URL.Query().Get("status") == "pending" {
		items = queue.ListPending()
	} else {
		items = queue.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": items})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	req, ok := s.Supervisor.Queue().Status(id)
	if !ok {
		writeNotFound(w, "approval")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := approvalID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid approval id")
		return
	}

	queue := s.Supervisor.Queue()
	var ok bool
	outcome := "rejected"
	event := "approval.rejected"
	if approve {
		ok = queue.Approve(id)
		outcome = "approved"
		event = "approval.approved"
	} else {
		ok = queue.Reject(id)
	}
	if !ok {
		writeNotFound(w, "approval")
		return
	}

	actor := "system"
	if identity, found := IdentityFrom(r.Context()); found {
		actor = identity.Username
	}
	if s.Audit != nil {
		s.Audit.Record("approval_"+outcome, actor, map[string]any{"id": id})
	}
	if s.Webhooks != nil {
		s.Webhooks.Fire(event, map[string]any{"id": id, "actor": actor})
	}
	if s.Observability != nil && s.Observability.Metrics() != nil {
		s.Observability.Metrics().RecordApprovalOutcome(outcome, "admin")
	}
	s.broker.Publish(ApprovalEvent{Type: outcome, ID: id})
	s.publishPendingGauge()

	req, _ := queue.Status(id)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, false)
}

// handleApprovalsStream pushes a pending-queue snapshot followed by
// live updates as SSE data frames, with a 10s keepalive comment.
func (s *Server) handleApprovalsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	writeFrame := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", data); err != nil {
			return false
		}
		_ = bw.Flush()
		flusher.Flush()
		return true
	}

	if !writeFrame(map[string]any{"type": "snapshot", "pending": s.Supervisor.Queue().ListPending()}) {
		return
	}

	events, unsubscribe := s.broker.Subscribe()
	defer unsubscribe()

	keepalive := time.NewTicker(10 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !writeFrame(ev) {
				return
			}
		case <-keepalive.C:
			if _, err := bw.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			_ = bw.Flush()
			flusher.Flush()
		}
	}
}

// Gate decisions resolve the chat engine's mid-loop approval waits.
func (s *Server) handleGateApprove(w http.ResponseWriter, r *http.Request) {
	s.decideGate(w, r, true)
}

func (s *Server) handleGateReject(w http.ResponseWriter, r *http.Request) {
	s.decideGate(w, r, false)
}

func (s *Server) decideGate(w http.ResponseWriter, r *http.Request, approve bool) {
	if s.Gate == nil {
		writeNotFound(w, "approval")
		return
	}
	id, err := approvalID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	var ok bool
	if approve {
		ok = s.Gate.Approve(id)
	} else {
		ok = s.Gate.Reject(id)
	}
	if !ok {
		writeNotFound(w, "approval")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": approve})
}
