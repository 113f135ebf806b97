package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/UrHighness01/Intelli-sub000/pkg/config"
	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
	"github.com/UrHighness01/Intelli-sub000/pkg/ratelimit"
	"github.com/UrHighness01/Intelli-sub000/pkg/supervisor"
)

func (s *Server) actor(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.Username
	}
	return "system"
}

// auditAdmin records a mutating admin operation regardless of outcome.
func (s *Server) auditAdmin(r *http.Request, event string, details map[string]any) {
	if s.Audit != nil {
		s.Audit.Record(event, s.actor(r), details)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	type workerView struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
	}
	var workers []workerView
	healthy := true
	if s.WorkerHealth != nil {
		for _, st := range s.WorkerHealth() {
			workers = append(workers, workerView{Name: st.Name, Healthy: st.Healthy})
			if !st.Healthy {
				healthy = false
			}
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "workers": workers})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	armed, reason := s.kill.State()
	status := map[string]any{
		"uptime_seconds":    time.Since(s.startedAt).Seconds(),
		"pending_approvals": s.Supervisor.Queue().PendingCount(),
		"kill_switch":       map[string]any{"armed": armed, "reason": reason},
	}
	if s.Failover != nil {
		status["failover_chain"] = s.Failover.Chain()
		status["cooldowns"] = s.Failover.Cooldowns().Status()
	}
	if s.Scheduler != nil {
		status["scheduled_tasks"] = len(s.Scheduler.List())
	}
	writeJSON(w, http.StatusOK, status)
}

// handleConfigSchema reflects the config document's JSON schema for the
// config-builder UI.
func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	writeJSON(w, http.StatusOK, reflector.Reflect(&config.Config{}))
}

func (s *Server) handleToolMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Observability == nil || s.Observability.Metrics() == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.Observability.Metrics().ToolStats()})
}

// Rate limits ------------------------------------------------------------

type rateLimitView struct {
	MaxRequests   int  `json:"max_requests"`
	WindowSeconds int  `json:"window_seconds"`
	Burst         int  `json:"burst"`
	Enabled       bool `json:"enabled"`
}

func viewOf(cfg ratelimit.Config) rateLimitView {
	return rateLimitView{
		MaxRequests:   cfg.MaxRequests,
		WindowSeconds: int(cfg.Window.Seconds()),
		Burst:         cfg.Burst,
		Enabled:       cfg.Enabled,
	}
}

func (s *Server) handleGetRateLimits(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.ClientLimiter != nil {
		out["per_client"] = viewOf(s.ClientLimiter.GetConfig())
	}
	if s.UserLimiter != nil {
		out["per_user"] = viewOf(s.UserLimiter.GetConfig())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateRateLimits(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PerClient *rateLimitView `json:"per_client"`
		PerUser   *rateLimitView `json:"per_user"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	apply := func(l *ratelimit.Limiter, v *rateLimitView) error {
		if l == nil || v == nil {
			return nil
		}
		return l.UpdateConfig(ratelimit.Config{
			MaxRequests: v.MaxRequests,
			Window:      time.Duration(v.WindowSeconds) * time.Second,
			Burst:       v.Burst,
			Enabled:     v.Enabled,
		})
	}

	err := apply(s.ClientLimiter, body.PerClient)
	if err == nil {
		err = apply(s.UserLimiter, body.PerUser)
	}
	s.auditAdmin(r, "rate_limits_updated", map[string]any{"ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.handleGetRateLimits(w, r)
}

func (s *Server) handleRateLimitSnapshot(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	out := map[string]any{}
	if s.ClientLimiter != nil {
		out["per_client"] = s.ClientLimiter.Snapshot(now)
	}
	if s.UserLimiter != nil {
		out["per_user"] = s.UserLimiter.Snapshot(now)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope string `json:"scope"` // client | user
		Key   string `json:"key"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	switch body.Scope {
	case "client":
		if s.ClientLimiter != nil {
			s.ClientLimiter.Reset(body.Key)
		}
	case "user":
		if s.UserLimiter != nil {
			s.UserLimiter.Reset(body.Key)
		}
	default:
		writeDetail(w, http.StatusBadRequest, "scope must be client or user")
		return
	}
	s.auditAdmin(r, "rate_limit_reset", map[string]any{"scope": body.Scope, "key": body.Key})
	writeJSON(w, http.StatusOK, map[string]any{"reset": body.Key})
}

// Alert & approval config ------------------------------------------------

func (s *Server) handleGetAlertsConfig(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.AlertMonitor != nil {
		window, thresh := s.AlertMonitor.Thresholds()
		out["validation_error_window_seconds"] = int(window.Seconds())
		out["validation_error_threshold"] = thresh
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateAlertsConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ValidationErrorWindowSeconds int `json:"validation_error_window_seconds"`
		ValidationErrorThreshold     int `json:"validation_error_threshold"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if s.AlertMonitor != nil {
		s.AlertMonitor.UpdateThresholds(
			time.Duration(body.ValidationErrorWindowSeconds)*time.Second,
			body.ValidationErrorThreshold,
		)
	}
	s.auditAdmin(r, "alerts_config_updated", map[string]any{
		"window":    body.ValidationErrorWindowSeconds,
		"threshold": body.ValidationErrorThreshold,
	})
	s.handleGetAlertsConfig(w, r)
}

func (s *Server) handleGetApprovalsConfig(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.Reaper != nil {
		out["timeout_seconds"] = int(s.Reaper.Timeout().Seconds())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateApprovalsConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TimeoutSeconds < 0 {
		writeDetail(w, http.StatusBadRequest, "timeout_seconds must not be negative")
		return
	}
	if s.Reaper != nil {
		s.Reaper.SetTimeout(time.Duration(body.TimeoutSeconds) * time.Second)
	}
	s.auditAdmin(r, "approvals_config_updated", map[string]any{"timeout_seconds": body.TimeoutSeconds})
	s.handleGetApprovalsConfig(w, r)
}

// Kill switch ------------------------------------------------------------

func (s *Server) handleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	armed, reason := s.kill.State()
	writeJSON(w, http.StatusOK, map[string]any{"armed": armed, "reason": reason})
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Armed  bool   `json:"armed"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Armed {
		s.kill.Arm(body.Reason)
	} else {
		s.kill.Disarm()
	}
	s.auditAdmin(r, "kill_switch_changed", map[string]any{"armed": body.Armed, "reason": body.Reason})
	s.handleGetKillSwitch(w, r)
}

// Content policy ---------------------------------------------------------

type contentRuleView struct {
	Label   string `json:"label"`
	Pattern string `json:"pattern"`
	IsRegex bool   `json:"is_regex"`
}

func (s *Server) handleGetContentPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.contentRules()})
}

func (s *Server) handleUpdateContentPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []contentRuleView `json:"rules"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	rules := make([]*supervisor.Rule, 0, len(body.Rules))
	for _, v := range body.Rules {
		rules = append(rules, &supervisor.Rule{Label: v.Label, Pattern: v.Pattern, IsRegex: v.IsRegex})
	}
	err := s.Filter.SetPersistedRules(rules)
	s.auditAdmin(r, "content_policy_updated", map[string]any{"rules": len(body.Rules), "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.PersistRules != nil {
		if err := s.PersistRules(rules); err != nil {
			s.log.Warn("server: persisting content rules failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.contentRules()})
}

func (s *Server) handleReloadContentPolicy(w http.ResponseWriter, r *http.Request) {
	if s.ReloadRules == nil {
		writeNotFound(w, "content-policy reload")
		return
	}
	err := s.ReloadRules()
	s.auditAdmin(r, "content_policy_reloaded", map[string]any{"ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.contentRules()})
}

func (s *Server) contentRules() []contentRuleView {
	if s.Filter == nil {
		return nil
	}
	var out []contentRuleView
	for _, rule := range s.Filter.Rules() {
		out = append(out, contentRuleView{Label: rule.Label, Pattern: rule.Pattern, IsRegex: rule.IsRegex})
	}
	return out
}

// Users ------------------------------------------------------------------

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": s.Auth.ListUsers()})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string   `json:"username"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	created, err := s.Auth.CreateUser(body.Username, body.Password, body.Roles)
	s.auditAdmin(r, "user_created", map[string]any{"username": body.Username, "ok": err == nil && created})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !created {
		writeDetail(w, http.StatusConflict, "user already exists")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": body.Username, "roles": body.Roles})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	ok := s.Auth.DeleteUser(username)
	s.auditAdmin(r, "user_deleted", map[string]any{"username": username, "ok": ok})
	if !ok {
		writeNotFound(w, "user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": username})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var body struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ok, err := s.Auth.ChangePassword(username, body.Password)
	s.auditAdmin(r, "user_password_changed", map[string]any{"username": username, "ok": ok && err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeNotFound(w, "user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": username})
}

func (s *Server) handleSetAllowedTools(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var body struct {
		AllowedTools []string `json:"allowed_tools"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ok := s.Auth.SetUserAllowedTools(username, body.AllowedTools)
	s.auditAdmin(r, "user_allowed_tools_changed", map[string]any{"username": username, "ok": ok})
	if !ok {
		writeNotFound(w, "user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "allowed_tools": body.AllowedTools})
}

// Providers --------------------------------------------------------------

func (s *Server) handleGetFailoverChain(w http.ResponseWriter, r *http.Request) {
	if s.Failover == nil {
		writeNotFound(w, "failover")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain":     s.Failover.Chain(),
		"cooldowns": s.Failover.Cooldowns().Status(),
	})
}

func (s *Server) handleSetFailoverChain(w http.ResponseWriter, r *http.Request) {
	if s.Failover == nil {
		writeNotFound(w, "failover")
		return
	}
	var body struct {
		Chain []struct {
			Provider string `json:"provider"`
			Model    string `json:"model"`
		} `json:"chain"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	entries := make([]provider.ChainEntry, 0, len(body.Chain))
	for _, e := range body.Chain {
		if e.Provider == "" {
			writeDetail(w, http.StatusBadRequest, "chain entry with empty provider")
			return
		}
		entries = append(entries, provider.ChainEntry{Provider: e.Provider, Model: e.Model})
	}
	s.Failover.SetChain(entries)
	s.auditAdmin(r, "failover_chain_updated", map[string]any{"length": len(entries)})
	s.handleGetFailoverChain(w, r)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	out := map[string]any{"provider": name}
	if s.KeyStore != nil {
		if meta, ok := s.KeyStore.GetKeyMetadata(name); ok {
			out["key_metadata"] = meta
			out["days_until_expiry"] = meta.DaysUntilExpiry()
		}
	}
	if s.Failover != nil {
		out["on_cooldown"] = s.Failover.Cooldowns().IsOnCooldown(name)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRotateProviderKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if s.KeyStore == nil {
		writeNotFound(w, "provider key store")
		return
	}
	var body struct {
		TTLDays *int `json:"ttl_days"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}
	meta, err := s.KeyStore.RotateKey(name, body.TTLDays)
	s.auditAdmin(r, "provider_key_rotated", map[string]any{"provider": name, "ok": err == nil})
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": name, "key_metadata": meta})
}
