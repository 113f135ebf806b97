package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleConsentTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.Consent.GetTimeline(q.Get("origin"), q.Get("actor"), limit)
	writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

// handleConsentExport is the GDPR Art. 15 export: every entry for an
// actor, oldest first, unbounded.
func (s *Server) handleConsentExport(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")
	entries := s.Consent.ExportActorData(actor)
	s.auditAdmin(r, "consent_exported", map[string]any{"subject": actor, "entries": len(entries)})
	writeJSON(w, http.StatusOK, map[string]any{"actor": actor, "entries": entries})
}

// handleConsentErase is the GDPR Art. 17 erasure.
func (s *Server) handleConsentErase(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")
	removed := s.Consent.EraseActorData(actor)
	s.auditAdmin(r, "consent_erased", map[string]any{"subject": actor, "removed": removed})
	writeJSON(w, http.StatusOK, map[string]any{"actor": actor, "removed": removed})
}
