package server

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/audit"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, ok, err := s.Auth.Authenticate(body.Username, body.Password)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if s.Audit != nil {
		s.Audit.Record("login", body.Username, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	token, ok, err := s.Auth.RefreshAccessToken(body.RefreshToken)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}

// handleLogout revokes the presented bearer token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	revoked := s.Auth.RevokeToken(token)
	if s.Audit != nil {
		s.Audit.Record("logout", s.actor(r), map[string]any{"revoked": revoked})
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

// handleAdminSetup creates the initial admin account; it only works
// while no admin exists.
func (s *Server) handleAdminSetup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Password) < 8 {
		writeDetail(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	for _, u := range s.Auth.ListUsers() {
		for _, role := range u.Roles {
			if role == "admin" {
				writeDetail(w, http.StatusConflict, "admin account already exists")
				return
			}
		}
	}
	if err := s.Auth.EnsureDefaultAdmin(body.Password); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.Audit != nil {
		s.Audit.Record("admin_setup", "system", nil)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": "admin"})
}

// handleBootstrapToken mints a long-lived admin token when the caller
// proves possession of the one-time shell secret passed via env.
func (s *Server) handleBootstrapToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	configured := os.Getenv(s.Config.Auth.BootstrapSecretEnv)
	token, err := s.Auth.BootstrapSecretHandler(body.Secret, configured)
	if err != nil {
		writeDetail(w, http.StatusForbidden, "invalid bootstrap secret")
		return
	}
	if s.Audit != nil {
		s.Audit.Record("bootstrap_token_minted", "system", nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}

// Audit export -----------------------------------------------------------

func auditFilterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		Actor: q.Get("actor"),
		Event: q.Get("event"),
	}
	if raw := q.Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Tail = n
		}
	}
	if raw := q.Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Since = t
		}
	}
	if raw := q.Get("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Until = t
		}
	}
	return f
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Audit.Export(auditFilterFromQuery(r))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAuditExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	if err := s.Audit.ExportCSV(w, auditFilterFromQuery(r)); err != nil {
		s.log.Warn("server: audit CSV export failed", "error", err)
	}
}
