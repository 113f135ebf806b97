package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.Scheduler.List()})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name            string         `json:"name"`
		Tool            string         `json:"tool"`
		Args            map[string]any `json:"args"`
		IntervalSeconds int            `json:"interval_seconds"`
		Enabled         *bool          `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	task, err := s.Scheduler.AddTask(body.Name, body.Tool, body.Args, body.IntervalSeconds, enabled)
	s.auditAdmin(r, "task_created", map[string]any{"name": body.Name, "tool": body.Tool, "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.Scheduler.Get(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name            *string        `json:"name"`
		Args            map[string]any `json:"args"`
		IntervalSeconds *int           `json:"interval_seconds"`
		Enabled         *bool          `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	err := s.Scheduler.Update(id, body.Name, body.Args, body.IntervalSeconds, body.Enabled)
	s.auditAdmin(r, "task_updated", map[string]any{"id": id, "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	task, _ := s.Scheduler.Get(id)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok := s.Scheduler.Delete(id)
	s.auditAdmin(r, "task_deleted", map[string]any{"id": id, "ok": ok})
	if !ok {
		writeNotFound(w, "task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.Scheduler.Get(id)
	if !ok {
		writeNotFound(w, "task")
		return
	}
	s.Scheduler.SetEnabled(id, !task.Enabled)
	s.auditAdmin(r, "task_toggled", map[string]any{"id": id, "enabled": !task.Enabled})
	task, _ = s.Scheduler.Get(id)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok := s.Scheduler.Trigger(id)
	s.auditAdmin(r, "task_triggered", map[string]any{"id": id, "ok": ok})
	if !ok {
		writeNotFound(w, "task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggered": id})
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	history, ok := s.Scheduler.History(id, limit)
	if !ok {
		writeNotFound(w, "task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}
