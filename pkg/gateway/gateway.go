// Package gateway is the composition root: it builds every subsystem
// from the loaded config, wires their cross-cutting sinks together, and
// runs the HTTP server alongside the background daemons under one
// errgroup.
//
// Each subsystem is an explicit service value constructed here and
// passed down — no package-level singletons.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/UrHighness01/Intelli-sub000/pkg/audit"
	"github.com/UrHighness01/Intelli-sub000/pkg/auth"
	"github.com/UrHighness01/Intelli-sub000/pkg/capability"
	"github.com/UrHighness01/Intelli-sub000/pkg/chatengine"
	"github.com/UrHighness01/Intelli-sub000/pkg/config"
	"github.com/UrHighness01/Intelli-sub000/pkg/consent"
	"github.com/UrHighness01/Intelli-sub000/pkg/memory"
	"github.com/UrHighness01/Intelli-sub000/pkg/monitor"
	"github.com/UrHighness01/Intelli-sub000/pkg/observability"
	"github.com/UrHighness01/Intelli-sub000/pkg/plugins"
	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
	"github.com/UrHighness01/Intelli-sub000/pkg/ratelimit"
	"github.com/UrHighness01/Intelli-sub000/pkg/scheduler"
	"github.com/UrHighness01/Intelli-sub000/pkg/server"
	"github.com/UrHighness01/Intelli-sub000/pkg/supervisor"
	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
	"github.com/UrHighness01/Intelli-sub000/pkg/webhook"
)

// Gateway owns every constructed subsystem.
type Gateway struct {
	cfg *config.Config
	log *slog.Logger

	auditLog   *audit.Log
	authStore  *auth.Store
	caps       *capability.Registry
	filter     *supervisor.ContentFilter
	supervisor *supervisor.Supervisor
	webhooks   *webhook.Dispatcher
	sched      *scheduler.Scheduler
	mem        *memory.Store
	consentLog *consent.Log

	providers *provider.Registry
	failover  *provider.Failover
	keystore  *provider.KeyStore

	tools     *chatengine.Registry
	gate      *chatengine.ApprovalGate
	engine    *chatengine.Engine
	personas  *chatengine.PersonaStore
	sessions  *chatengine.SessionStore
	workspace *chatengine.Workspace
	counter   *chatengine.TokenCounter

	pluginMgr *plugins.Manager
	obs       *observability.Manager
	reaper    *monitor.ApprovalReaper
	alertMon  *monitor.AlertMonitor
	watcher   *config.FileWatcher

	httpServer *server.Server
}

// reaperSink fans approval expiries to the audit log and the webhook
// dispatcher, and mirrors them onto the SSE broker.
type reaperSink struct {
	audit    *audit.Log
	webhooks *webhook.Dispatcher
	broker   *server.Broker
}

func (s *reaperSink) Record(event, actor string, details map[string]any) {
	s.audit.Record(event, actor, details)
}

func (s *reaperSink) Fire(event string, payload map[string]any) {
	s.webhooks.Fire(event, payload)
	if id, ok := payload["id"].(int64); ok && s.broker != nil {
		s.broker.Publish(server.ApprovalEvent{Type: "expired", ID: id})
	}
}

func (s *reaperSink) FireAlert(alert string, details map[string]any) {
	s.webhooks.FireAlert(alert, details)
}

// New builds the whole gateway from cfg. ctx bounds slow external
// initialization (bedrock config load, tracing exporter dial).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{cfg: cfg, log: logger}

	if err := g.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := g.buildProviders(ctx); err != nil {
		return nil, err
	}
	if err := g.buildChat(ctx); err != nil {
		return nil, err
	}
	if err := g.buildSupervision(); err != nil {
		return nil, err
	}
	if err := g.buildServer(); err != nil {
		return nil, err
	}
	if err := g.buildWatchers(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) buildStores(ctx context.Context) error {
	cfg := g.cfg

	var auditKey []byte
	if raw := strings.TrimSpace(os.Getenv(cfg.Audit.EncryptKeyEnv)); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("gateway: decode %s: %w", cfg.Audit.EncryptKeyEnv, err)
		}
		auditKey = key
	}
	auditLog, err := audit.New(cfg.Audit.Path, auditKey, g.log)
	if err != nil {
		return err
	}
	g.auditLog = auditLog

	g.authStore, err = auth.New(auth.Config{
		UsersPath:     cfg.Auth.UsersPath,
		RevokedPath:   cfg.Auth.RevocationPath,
		AccessExpire:  cfg.Auth.AccessTTL,
		RefreshExpire: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return err
	}
	if pw := os.Getenv("GATEWAY_ADMIN_PASSWORD"); pw != "" {
		if err := g.authStore.EnsureDefaultAdmin(pw); err != nil {
			return err
		}
	}

	g.webhooks, err = webhook.New(webhook.Config{
		PersistPath: cfg.Webhooks.RegistryPath,
		Timeout:     cfg.Webhooks.RequestTimeout,
		MaxRetries:  cfg.Webhooks.MaxRetries,
	}, g.log)
	if err != nil {
		return err
	}

	g.sched, err = scheduler.New(cfg.Scheduler.TasksPath, g.log)
	if err != nil {
		return err
	}

	g.mem = memory.New(cfg.Memory.Dir)
	g.consentLog = consent.New(cfg.Consent.Path)

	g.obs, err = observability.NewManager(ctx, &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:      cfg.Observability.Tracing.Enabled,
			Exporter:     cfg.Observability.Tracing.Exporter,
			Endpoint:     cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SamplingRate,
			ServiceName:  cfg.Observability.Tracing.ServiceName,
		},
		Metrics: observability.MetricsConfig{
			Enabled:   cfg.Observability.Metrics.Enabled,
			Namespace: cfg.Observability.Metrics.Namespace,
		},
	})
	return err
}

func (g *Gateway) buildProviders(ctx context.Context) error {
	cfg := g.cfg

	allowList := provider.NewAllowList(os.Getenv(cfg.Providers.OutboundAllowListEnv))
	g.providers = provider.NewRegistry()

	for name, p := range cfg.Providers.Adapters {
		apiKey := os.Getenv(p.APIKeyEnv)
		var adapter provider.Adapter
		var err error
		switch p.Type {
		case "anthropic":
			adapter = provider.NewAnthropicAdapter(apiKey, p.Model, allowList)
		case "openai", "":
			adapter = provider.NewOpenAIAdapter(apiKey, p.Model, allowList)
		case "gemini":
			adapter, err = provider.NewGeminiAdapter(apiKey, p.Model, allowList)
		case "bedrock":
			adapter, err = provider.NewBedrockAdapter(ctx, p.Region, p.Model, allowList)
		}
		if err != nil {
			g.log.Error("gateway: provider adapter init failed", "provider", name, "error", err)
			continue
		}
		if err := g.providers.RegisterAdapter(adapter); err != nil {
			return err
		}
	}

	g.failover = provider.NewFailover(g.providers)
	var chain []provider.ChainEntry
	for _, e := range cfg.Providers.Failover {
		chain = append(chain, provider.ChainEntry{Provider: e.Provider, Model: e.Model})
	}
	g.failover.SetChain(chain)

	var err error
	g.keystore, err = provider.NewKeyStore(cfg.Providers.KeyMetadataPath, cfg.Providers.KeyDefaultTTL)
	return err
}

func (g *Gateway) buildChat(ctx context.Context) error {
	cfg := g.cfg

	g.personas = chatengine.NewPersonaStore(cfg.Chat.PersonaDir)

	var err error
	g.sessions, err = chatengine.NewSessionStore(cfg.Chat.SessionDir)
	if err != nil {
		return err
	}
	g.workspace, err = chatengine.NewWorkspace(cfg.Chat.WorkspaceRoot)
	if err != nil {
		return err
	}
	g.counter, err = chatengine.NewTokenCounter(cfg.Chat.TokenizerModel)
	if err != nil {
		g.log.Warn("gateway: tokenizer unavailable, compaction disabled", "error", err)
		g.counter = nil
	}

	g.tools = chatengine.NewRegistry()
	g.gate = chatengine.NewApprovalGate()
	g.engine = chatengine.NewEngine(g.failover, g.tools, g.gate)
	g.tools.Register(chatengine.SpawnAgentTool(g.failover, g.tools))

	// Plugin and MCP tools join the same registry and get capability
	// manifests so the supervisor treats them like built-ins.
	g.pluginMgr = plugins.NewManager(g.log)
	discovered, errs := plugins.Discover(plugins.DiscoveryConfig{
		Enabled:            cfg.Plugins.Enabled,
		Paths:              cfg.Plugins.Paths,
		ScanSubdirectories: cfg.Plugins.ScanSubdirectories,
	})
	for _, derr := range errs {
		g.log.Warn("gateway: plugin discovery", "error", derr)
	}
	g.pluginMgr.LoadDiscovered(ctx, discovered)
	for _, m := range cfg.Plugins.MCPServers {
		if err := g.pluginMgr.AddMCPServer(plugins.MCPConfig{
			Name:    m.Name,
			Command: m.Command,
			Args:    m.Args,
			Env:     m.Env,
			Filter:  m.Filter,
		}); err != nil {
			g.log.Warn("gateway: MCP server rejected", "server", m.Name, "error", err)
		}
	}
	return nil
}

func (g *Gateway) registerExternalTools(ctx context.Context) {
	for _, t := range g.pluginMgr.Tools(ctx) {
		decl := t.Decl
		invoke := t.Invoke
		args := make(map[string]chatengine.ArgSpec, len(decl.Args))
		for name, a := range decl.Args {
			args[name] = chatengine.ArgSpec{
				Type:        chatengine.ArgType(a.Type),
				Required:    a.Required,
				Description: a.Description,
			}
		}
		g.tools.Register(chatengine.ToolSpec{
			Name:        decl.Name,
			Description: decl.Description,
			Args:        args,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				return invoke(ctx, args)
			},
		})

		man := &capability.Manifest{
			Tool:             decl.Name,
			DisplayName:      decl.Name,
			Description:      decl.Description,
			Required:         decl.RequiredCaps,
			RiskLevel:        tooltype.RiskLevel(decl.RiskLevel),
			RequiresApproval: decl.RequiresApproval,
		}
		g.caps.RegisterManifest(man)
	}
}

func (g *Gateway) buildSupervision() error {
	cfg := g.cfg

	g.caps = capability.NewRegistry(cfg.Capabilities.ManifestDir, os.Getenv(cfg.Capabilities.AllowSetEnv))

	persisted, err := loadContentRules(cfg.ContentPolicy.RulesPath)
	if err != nil {
		return err
	}
	g.filter, err = supervisor.NewContentFilter(os.Getenv(cfg.ContentPolicy.PatternsEnv), persisted)
	if err != nil {
		return err
	}

	g.supervisor, err = supervisor.New(supervisor.Config{
		ApprovalQueueThreshold: cfg.Approvals.QueueDepthThreshold,
	}, g.caps, g.filter, g.webhooks, g.auditLog, g.log)
	if err != nil {
		return err
	}
	if err := g.registerArgSchemas(cfg.Capabilities.SchemaDir); err != nil {
		return err
	}

	// Scheduled tasks run through the same supervision pipeline as
	// live calls.
	g.sched.SetExecutor(func(tool string, args map[string]any) (any, error) {
		result, err := g.supervisor.ProcessCall(tooltype.ToolCall{Tool: tool, Args: args})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	return nil
}

// registerArgSchemas walks the per-tool schema directory (tool id with
// "." -> "/") and installs every schema found.
func (g *Gateway) registerArgSchemas(dir string) error {
	if dir == "" {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		tool := strings.ReplaceAll(strings.TrimSuffix(rel, ".json"), string(filepath.Separator), ".")
		if err := g.supervisor.RegisterArgSchema(tool, string(raw)); err != nil {
			g.log.Warn("gateway: bad args schema", "tool", tool, "error", err)
		}
		return nil
	})
}

func (g *Gateway) buildServer() error {
	cfg := g.cfg

	var jwtValidator *server.JWTValidator
	if cfg.Auth.JWT.Enabled {
		secret := os.Getenv(cfg.Auth.JWT.SecretEnv)
		v, err := server.NewJWTValidator([]byte(secret), cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Audience)
		if err != nil {
			return err
		}
		jwtValidator = v
	}

	clientLimiter := ratelimit.New(g.limiterConfig(cfg.RateLimits.PerClient), g.limiterOptions("client")...)
	userLimiter := ratelimit.New(g.limiterConfig(cfg.RateLimits.PerUser), g.limiterOptions("user")...)

	g.reaper = monitor.NewApprovalReaper(
		g.supervisor.Queue(),
		nil, // sink needs the server's broker; installed in Run
		5*time.Second,
		time.Duration(cfg.Approvals.TimeoutSeconds)*time.Second,
		g.log,
	)

	g.alertMon = monitor.NewAlertMonitor(g.workerHealth, g.webhooks, monitor.Config{
		Interval:              time.Duration(cfg.Alerts.WorkerCheckIntervalSeconds) * time.Second,
		ValidationErrorWindow: time.Duration(cfg.Alerts.ValidationErrorWindowSecs) * time.Second,
		ValidationErrorThresh: cfg.Alerts.ValidationErrorThreshold,
	}, g.log)

	srv, err := server.New(server.Deps{
		Config:        cfg,
		Auth:          g.authStore,
		JWT:           jwtValidator,
		Supervisor:    g.supervisor,
		Filter:        g.filter,
		Caps:          g.caps,
		ClientLimiter: clientLimiter,
		UserLimiter:   userLimiter,
		Webhooks:      g.webhooks,
		Scheduler:     g.sched,
		Audit:         g.auditLog,
		Memory:        g.mem,
		Consent:       g.consentLog,
		Engine:        g.engine,
		Gate:          g.gate,
		Tools:         g.tools,
		Personas:      g.personas,
		Sessions:      g.sessions,
		Workspace:     g.workspace,
		Counter:       g.counter,
		Failover:      g.failover,
		KeyStore:      g.keystore,
		Observability: g.obs,
		AlertMonitor:  g.alertMon,
		Reaper:        g.reaper,
		WorkerHealth:  g.workerHealth,
		PersistRules:  func(rules []*supervisor.Rule) error { return saveContentRules(cfg.ContentPolicy.RulesPath, rules) },
		ReloadRules:   g.reloadContentRules,
		Logger:        g.log,
	})
	if err != nil {
		return err
	}
	g.httpServer = srv
	return nil
}

func (g *Gateway) limiterConfig(p config.RateLimitPolicy) ratelimit.Config {
	return ratelimit.Config{
		MaxRequests: p.MaxRequests,
		Window:      time.Duration(p.WindowSeconds) * time.Second,
		Burst:       p.Burst,
		Enabled:     !g.cfg.RateLimits.Disabled,
	}
}

func (g *Gateway) limiterOptions(scope string) []ratelimit.Option {
	if g.cfg.RateLimits.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: g.cfg.RateLimits.RedisAddr})
	ttl := time.Duration(g.cfg.RateLimits.PerClient.WindowSeconds) * 2 * time.Second
	if scope == "user" {
		ttl = time.Duration(g.cfg.RateLimits.PerUser.WindowSeconds) * 2 * time.Second
	}
	return []ratelimit.Option{ratelimit.WithStore(ratelimit.NewRedisStore(client, ttl))}
}

// workerHealth aggregates plugin subprocess liveness for the alert
// monitor and /health/worker.
func (g *Gateway) workerHealth() []monitor.WorkerStatus {
	var out []monitor.WorkerStatus
	if g.pluginMgr != nil {
		for name, healthy := range g.pluginMgr.Health() {
			out = append(out, monitor.WorkerStatus{Name: name, Healthy: healthy})
		}
	}
	return out
}

func (g *Gateway) buildWatchers() error {
	watcher, err := config.NewFileWatcher(g.log)
	if err != nil {
		return err
	}
	if err := watcher.WatchPath(g.cfg.ContentPolicy.RulesPath, func() {
		if err := g.reloadContentRules(); err != nil {
			g.log.Warn("gateway: content rules reload failed", "error", err)
		}
	}); err != nil {
		g.log.Warn("gateway: cannot watch content rules", "error", err)
	}
	if err := watcher.WatchPath(g.cfg.Capabilities.ManifestDir, func() {
		g.caps.Reload()
		g.log.Info("gateway: manifest cache invalidated")
	}); err != nil {
		g.log.Warn("gateway: cannot watch manifest dir", "error", err)
	}
	g.watcher = watcher
	return nil
}

func (g *Gateway) reloadContentRules() error {
	persisted, err := loadContentRules(g.cfg.ContentPolicy.RulesPath)
	if err != nil {
		return err
	}
	return g.filter.SetPersistedRules(persisted)
}

// Run starts the server and every background daemon, blocking until ctx
// is cancelled or a fatal error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	// Late wiring that needs the server's broker.
	g.reaper.SetSink(&reaperSink{audit: g.auditLog, webhooks: g.webhooks, broker: g.httpServer.Broker()})

	g.registerExternalTools(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return g.httpServer.Start(ctx) })
	group.Go(func() error { g.sched.Run(ctx); return nil })
	group.Go(func() error { g.reaper.Run(ctx); return nil })
	group.Go(func() error { g.alertMon.Run(ctx); return nil })
	group.Go(func() error { g.watcher.Run(); return nil })
	group.Go(func() error {
		<-ctx.Done()
		_ = g.watcher.Close()
		g.pluginMgr.Close()
		g.webhooks.Close()
		return g.obs.Shutdown(context.Background())
	})

	g.auditLog.Record("gateway_started", "system", map[string]any{
		"addr": fmt.Sprintf("%s:%d", g.cfg.Server.Host, g.cfg.Server.Port),
	})
	return group.Wait()
}

// Server exposes the HTTP server (tests use its handler directly).
func (g *Gateway) Server() *server.Server { return g.httpServer }

// persistedRule is the on-disk shape of one content-policy rule.
type persistedRule struct {
	Label   string `json:"label"`
	Pattern string `json:"pattern"`
	IsRegex bool   `json:"is_regex,omitempty"`
}

func loadContentRules(path string) ([]*supervisor.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stored []persistedRule
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("gateway: parse %s: %w", path, err)
	}
	rules := make([]*supervisor.Rule, 0, len(stored))
	for _, r := range stored {
		rules = append(rules, &supervisor.Rule{Label: r.Label, Pattern: r.Pattern, IsRegex: r.IsRegex})
	}
	return rules, nil
}

func saveContentRules(path string, rules []*supervisor.Rule) error {
	stored := make([]persistedRule, 0, len(rules))
	for _, r := range rules {
		stored = append(stored, persistedRule{Label: r.Label, Pattern: r.Pattern, IsRegex: r.IsRegex})
	}
	raw, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
