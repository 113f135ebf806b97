// Package server is the gateway's HTTP/SSE surface: routing, auth,
// CORS, rate limiting, the kill switch, and the JSON/SSE encoders that
// front every subsystem. One Server value owns its dependencies and
// shuts down gracefully; routing is go-chi.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/UrHighness01/Intelli-sub000/pkg/audit"
	"github.com/UrHighness01/Intelli-sub000/pkg/auth"
	"github.com/UrHighness01/Intelli-sub000/pkg/capability"
	"github.com/UrHighness01/Intelli-sub000/pkg/chatengine"
	"github.com/UrHighness01/Intelli-sub000/pkg/config"
	"github.com/UrHighness01/Intelli-sub000/pkg/consent"
	"github.com/UrHighness01/Intelli-sub000/pkg/memory"
	"github.com/UrHighness01/Intelli-sub000/pkg/monitor"
	"github.com/UrHighness01/Intelli-sub000/pkg/observability"
	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
	"github.com/UrHighness01/Intelli-sub000/pkg/ratelimit"
	"github.com/UrHighness01/Intelli-sub000/pkg/scheduler"
	"github.com/UrHighness01/Intelli-sub000/pkg/supervisor"
	"github.com/UrHighness01/Intelli-sub000/pkg/webhook"
)

// Deps are every subsystem the HTTP surface fronts. Optional fields may
// be nil; the corresponding endpoints then return 404 or degrade (noted
// per field).
type Deps struct {
	Config *config.Config

	Auth       *auth.Store
	JWT        *JWTValidator // optional second bearer scheme
	Supervisor *supervisor.Supervisor
	Filter     *supervisor.ContentFilter
	Caps       *capability.Registry

	ClientLimiter *ratelimit.Limiter
	UserLimiter   *ratelimit.Limiter

	Webhooks  *webhook.Dispatcher
	Scheduler *scheduler.Scheduler
	Audit     *audit.Log
	Memory    *memory.Store
	Consent   *consent.Log

	Engine    *chatengine.Engine
	Gate      *chatengine.ApprovalGate
	Tools     *chatengine.Registry
	Personas  *chatengine.PersonaStore
	Sessions  *chatengine.SessionStore
	Workspace *chatengine.Workspace
	Counter   *chatengine.TokenCounter

	Failover *provider.Failover
	KeyStore *provider.KeyStore

	Observability *observability.Manager
	AlertMonitor  *monitor.AlertMonitor
	Reaper        *monitor.ApprovalReaper

	// WorkerHealth is probed by /health/worker; nil reports no workers.
	WorkerHealth monitor.WorkerHealthSource

	// PersistRules writes the admin-mutated content-policy rule set to
	// its backing file; ReloadRules re-merges env + file rules into the
	// filter. Both are wired by the composition root.
	PersistRules func([]*supervisor.Rule) error
	ReloadRules  func() error

	Logger *slog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	Deps

	cfg    config.ServerConfig
	kill   *KillSwitch
	broker *Broker
	http   *http.Server
	log    *slog.Logger

	startedAt time.Time
}

// New wires the router and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("server: auth store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Deps:      deps,
		cfg:       deps.Config.Server,
		kill:      NewKillSwitch(),
		broker:    NewBroker(),
		log:       logger,
		startedAt: time.Now(),
	}

	router := s.routes()
	s.http = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     router,
		ReadTimeout: s.cfg.ReadTimeout,
	}
	return s, nil
}

// Kill exposes the kill switch for the composition root and tests.
func (s *Server) Kill() *KillSwitch { return s.kill }

// Broker exposes the approval event broker so the composition root can
// publish reaper expiries into /approvals/stream.
func (s *Server) Broker() *Broker { return s.broker }

// Handler returns the assembled router, for httptest use.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.corsMiddleware())
	if s.Observability != nil {
		r.Use(s.Observability.Middleware(routePattern))
	}

	// Public surface.
	r.Get("/health", s.handleHealth)
	r.Get("/health/worker", s.handleWorkerHealth)
	r.Method(http.MethodGet, "/metrics", s.Observability.MetricsHandler())
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/admin/setup", s.handleAdminSetup)
	r.Post("/admin/bootstrap-token", s.handleBootstrapToken)
	r.Get("/chat/token-usage", s.handleTokenUsage)

	// Authenticated (any user), rate limited.
	r.Group(func(r chi.Router) {
		r.Use(s.clientRateLimit())
		r.Use(s.requireAuth)
		r.Use(s.userRateLimit())

		r.Post("/auth/logout", s.handleLogout)
		r.Post("/validate", s.handleValidate)
		r.Post("/tools/call", s.handleToolCall)
		r.Get("/tools/capabilities", s.handleCapabilities)
		r.Post("/chat/complete", s.handleChatComplete)
		r.Post("/chat/compact", s.handleChatCompact)
	})

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.clientRateLimit())
		r.Use(s.requireAuth)
		r.Use(s.requireAdmin)

		r.Get("/approvals", s.handleListApprovals)
		r.Get("/approvals/stream", s.handleApprovalsStream)
		r.Get("/approvals/{id}", s.handleGetApproval)
		r.Post("/approvals/{id}/approve", s.handleApprove)
		r.Post("/approvals/{id}/reject", s.handleReject)

		// Mid-loop approval gate (distinct from the pre-dispatch queue).
		r.Post("/agent/approvals/{id}/approve", s.handleGateApprove)
		r.Post("/agent/approvals/{id}/reject", s.handleGateReject)

		r.Get("/admin/status", s.handleStatus)
		r.Get("/admin/schema", s.handleConfigSchema)
		r.Get("/admin/metrics/tools", s.handleToolMetrics)

		r.Get("/admin/rate-limits", s.handleGetRateLimits)
		r.Put("/admin/rate-limits", s.handleUpdateRateLimits)
		r.Get("/admin/rate-limits/snapshot", s.handleRateLimitSnapshot)
		r.Post("/admin/rate-limits/reset", s.handleRateLimitReset)

		r.Get("/admin/alerts/config", s.handleGetAlertsConfig)
		r.Put("/admin/alerts/config", s.handleUpdateAlertsConfig)
		r.Get("/admin/approvals/config", s.handleGetApprovalsConfig)
		r.Put("/admin/approvals/config", s.handleUpdateApprovalsConfig)

		r.Get("/admin/kill-switch", s.handleGetKillSwitch)
		r.Post("/admin/kill-switch", s.handleSetKillSwitch)

		r.Get("/admin/content-policy", s.handleGetContentPolicy)
		r.Put("/admin/content-policy", s.handleUpdateContentPolicy)
		r.Post("/admin/content-policy/reload", s.handleReloadContentPolicy)

		r.Get("/admin/webhooks", s.handleListWebhooks)
		r.Post("/admin/webhooks", s.handleRegisterWebhook)
		r.Get("/admin/webhooks/{id}", s.handleGetWebhook)
		r.Delete("/admin/webhooks/{id}", s.handleDeleteWebhook)
		r.Get("/admin/webhooks/{id}/deliveries", s.handleWebhookDeliveries)

		r.Get("/admin/audit", s.handleAuditExport)
		r.Get("/admin/audit/export.csv", s.handleAuditExportCSV)

		r.Get("/admin/users", s.handleListUsers)
		r.Post("/admin/users", s.handleCreateUser)
		r.Delete("/admin/users/{username}", s.handleDeleteUser)
		r.Put("/admin/users/{username}/password", s.handleChangePassword)
		r.Put("/admin/users/{username}/allowed-tools", s.handleSetAllowedTools)

		r.Get("/admin/failover/chain", s.handleGetFailoverChain)
		r.Put("/admin/failover/chain", s.handleSetFailoverChain)
		r.Get("/admin/providers/{provider}", s.handleGetProvider)
		r.Post("/admin/providers/{provider}/rotate", s.handleRotateProviderKey)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Put("/tasks/{id}", s.handleUpdateTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)
		r.Post("/tasks/{id}/toggle", s.handleToggleTask)
		r.Post("/tasks/{id}/trigger", s.handleTriggerTask)
		r.Get("/tasks/{id}/history", s.handleTaskHistory)

		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{id}/memory", s.handleListMemory)
		r.Get("/agents/{id}/memory/{key}", s.handleGetMemory)
		r.Put("/agents/{id}/memory/{key}", s.handleSetMemory)
		r.Delete("/agents/{id}/memory/{key}", s.handleDeleteMemory)
		r.Post("/agents/{id}/memory/prune", s.handlePruneMemory)
		r.Get("/admin/memory/export", s.handleMemoryExport)
		r.Post("/admin/memory/import", s.handleMemoryImport)

		r.Get("/consent/timeline", s.handleConsentTimeline)
		r.Get("/consent/export/{actor}", s.handleConsentExport)
		r.Delete("/consent/export/{actor}", s.handleConsentErase)
	})

	return r
}

// routePattern maps a request to its chi route pattern for metric
// labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.broker.Close()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(s.cfg.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
