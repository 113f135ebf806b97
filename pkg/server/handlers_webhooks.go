package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": s.Webhooks.List()})
}

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	hook, err := s.Webhooks.Register(body.URL, body.Events, body.Secret)
	s.auditAdmin(r, "webhook_registered", map[string]any{"url": body.URL, "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.Webhooks.Get(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "webhook")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok := s.Webhooks.Delete(id)
	s.auditAdmin(r, "webhook_deleted", map[string]any{"id": id, "ok": ok})
	if !ok {
		writeNotFound(w, "webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.Webhooks.Get(id); !ok {
		writeNotFound(w, "webhook")
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": s.Webhooks.Deliveries(id, limit)})
}
