package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Memory.ListAgents()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	entries, err := s.Memory.List(agentID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentID, "memory": entries})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")
	value, ok, err := s.Memory.Get(agentID, key)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeNotFound(w, "memory key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleSetMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")
	var body struct {
		Value      any  `json:"value"`
		TTLSeconds *int `json:"ttl_seconds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	var ttl *time.Duration
	if body.TTLSeconds != nil {
		d := time.Duration(*body.TTLSeconds) * time.Second
		ttl = &d
	}
	if err := s.Memory.Set(agentID, key, body.Value, ttl); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.auditAdmin(r, "agent_memory_set", map[string]any{"agent": agentID, "key": key})
	writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")
	ok, err := s.Memory.Delete(agentID, key)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeNotFound(w, "memory key")
		return
	}
	s.auditAdmin(r, "agent_memory_deleted", map[string]any{"agent": agentID, "key": key})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": key})
}

func (s *Server) handlePruneMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	dropped, err := s.Memory.Prune(agentID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentID, "pruned": dropped})
}

func (s *Server) handleMemoryExport(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.Memory.ExportAll()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditAdmin(r, "agent_memory_exported", nil)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleMemoryImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agents map[string]map[string]any `json:"agents"`
		Merge  bool                      `json:"merge"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := s.Memory.ImportAll(body.Agents, body.Merge)
	s.auditAdmin(r, "agent_memory_imported", map[string]any{"merge": body.Merge, "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
