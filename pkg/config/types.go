// Package config loads and validates the gateway's single YAML
// configuration document, with env-var expansion, optional remote
// backends (consul, etcd, zookeeper), and explicit hot reload.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root of the gateway configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Auth          AuthConfig          `yaml:"auth,omitempty" json:"auth,omitempty"`
	RateLimits    RateLimitsConfig    `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
	Approvals     ApprovalsConfig     `yaml:"approvals,omitempty" json:"approvals,omitempty"`
	Alerts        AlertsConfig        `yaml:"alerts,omitempty" json:"alerts,omitempty"`
	ContentPolicy ContentPolicyConfig `yaml:"content_policy,omitempty" json:"content_policy,omitempty"`
	Capabilities  CapabilitiesConfig  `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Providers     ProvidersConfig     `yaml:"providers,omitempty" json:"providers,omitempty"`
	Chat          ChatConfig          `yaml:"chat,omitempty" json:"chat,omitempty"`
	Webhooks      WebhooksConfig      `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
	Scheduler     SchedulerConfig     `yaml:"scheduler,omitempty" json:"scheduler,omitempty"`
	Audit         AuditConfig         `yaml:"audit,omitempty" json:"audit,omitempty"`
	Memory        MemoryConfig        `yaml:"memory,omitempty" json:"memory,omitempty"`
	Consent       ConsentConfig       `yaml:"consent,omitempty" json:"consent,omitempty"`
	Plugins       PluginsConfig       `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// CORSOrigins is the comma-separated allow-list; defaults to the
	// local Electron shell origin. GATEWAY_CORS_ORIGINS overrides.
	CORSOrigins string `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`

	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// AuthConfig configures the user store, token TTLs, and the two ambient
// bootstrap mechanisms (first-run setup, shell bootstrap secret).
type AuthConfig struct {
	UsersPath      string `yaml:"users_path,omitempty" json:"users_path,omitempty"`
	RevocationPath string `yaml:"revocation_path,omitempty" json:"revocation_path,omitempty"`

	AccessTTL  time.Duration `yaml:"access_ttl,omitempty" json:"access_ttl,omitempty"`
	RefreshTTL time.Duration `yaml:"refresh_ttl,omitempty" json:"refresh_ttl,omitempty"`

	// BootstrapSecretEnv names the env var holding the one-time secret
	// the embedding shell uses to mint its admin token.
	BootstrapSecretEnv string `yaml:"bootstrap_secret_env,omitempty" json:"bootstrap_secret_env,omitempty"`

	// JWT, when set, additionally accepts externally-issued JWTs on
	// admin endpoints (HS256, shared secret). Opaque gateway tokens
	// remain the primary mechanism.
	JWT JWTConfig `yaml:"jwt,omitempty" json:"jwt,omitempty"`
}

// JWTConfig enables optional JWT bearer validation alongside the opaque
// token store.
type JWTConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	SecretEnv string `yaml:"secret_env,omitempty" json:"secret_env,omitempty"`
	Issuer    string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience  string `yaml:"audience,omitempty" json:"audience,omitempty"`
}

// RateLimitPolicy is one sliding-window policy.
type RateLimitPolicy struct {
	MaxRequests   int `yaml:"max_requests,omitempty" json:"max_requests,omitempty"`
	WindowSeconds int `yaml:"window_seconds,omitempty" json:"window_seconds,omitempty"`
	Burst         int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// RateLimitsConfig holds the two independent policies plus the global
// disable flag and the optional shared Redis store.
type RateLimitsConfig struct {
	Disabled  bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	PerClient RateLimitPolicy `yaml:"per_client,omitempty" json:"per_client,omitempty"`
	PerUser   RateLimitPolicy `yaml:"per_user,omitempty" json:"per_user,omitempty"`

	// RedisAddr switches the window store from in-process to a single
	// Redis instance (never a cluster). Empty = in-process.
	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
}

// ApprovalsConfig tunes the approval queue and its reaper.
type ApprovalsConfig struct {
	// TimeoutSeconds > 0 arms the reaper: pending approvals older than
	// this are flipped to rejected on its 5s pass.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// QueueDepthThreshold fires gateway.alert{approval_queue_depth}
	// when pending count reaches it; 0 disables.
	QueueDepthThreshold int `yaml:"queue_depth_threshold,omitempty" json:"queue_depth_threshold,omitempty"`

	// GateTimeoutSeconds is decoded and defaulted but not read by the
	// chat engine; its mid-loop approval wait is fixed at
	// chatengine.DefaultApprovalTimeout (2 minutes).
	GateTimeoutSeconds int `yaml:"gate_timeout_seconds,omitempty" json:"gate_timeout_seconds,omitempty"`
}

// AlertsConfig tunes the background alert monitor.
type AlertsConfig struct {
	WorkerCheckIntervalSeconds int `yaml:"worker_check_interval_seconds,omitempty" json:"worker_check_interval_seconds,omitempty"`
	ValidationErrorWindowSecs  int `yaml:"validation_error_window_seconds,omitempty" json:"validation_error_window_seconds,omitempty"`
	ValidationErrorThreshold   int `yaml:"validation_error_threshold,omitempty" json:"validation_error_threshold,omitempty"`
}

// ContentPolicyConfig names the two rule sources merged on every reload.
type ContentPolicyConfig struct {
	// RulesPath is the persisted JSON rule file, mutable via the admin
	// API. GATEWAY_CONTENT_FILTER_PATH overrides.
	RulesPath string `yaml:"rules_path,omitempty" json:"rules_path,omitempty"`

	// PatternsEnv names the env var carrying ephemeral comma-separated
	// literal rules.
	PatternsEnv string `yaml:"patterns_env,omitempty" json:"patterns_env,omitempty"`
}

// CapabilitiesConfig locates tool manifests and the boot allow-set.
type CapabilitiesConfig struct {
	ManifestDir string `yaml:"manifest_dir,omitempty" json:"manifest_dir,omitempty"`

	// AllowSetEnv names the env var holding the comma-separated
	// capability allow-set or the sentinel ALL.
	AllowSetEnv string `yaml:"allow_set_env,omitempty" json:"allow_set_env,omitempty"`

	// SchemaDir holds per-tool args schemas (tool id with "." -> "/").
	SchemaDir string `yaml:"schema_dir,omitempty" json:"schema_dir,omitempty"`
}

// ProviderConfig configures one LLM provider adapter.
type ProviderConfig struct {
	// Type selects the adapter: anthropic, openai, gemini, bedrock.
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKeyEnv names the env var holding the key; the key itself is
	// never written into the config document.
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`

	// Region is only meaningful for bedrock.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// FailoverEntry is one (provider, optional model override) chain link.
type FailoverEntry struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
}

// ProvidersConfig configures adapters, the failover chain, the outbound
// allow-list, and key TTL metadata.
type ProvidersConfig struct {
	Default  string                    `yaml:"default,omitempty" json:"default,omitempty"`
	Adapters map[string]ProviderConfig `yaml:"adapters,omitempty" json:"adapters,omitempty"`
	Failover []FailoverEntry           `yaml:"failover,omitempty" json:"failover,omitempty"`

	// OutboundAllowListEnv names the env var carrying the outbound
	// origin allow-list. Unset and whitespace-only both fall back to
	// the built-in vendor origins.
	OutboundAllowListEnv string `yaml:"outbound_allowlist_env,omitempty" json:"outbound_allowlist_env,omitempty"`

	KeyMetadataPath string `yaml:"key_metadata_path,omitempty" json:"key_metadata_path,omitempty"`
	KeyDefaultTTL   int    `yaml:"key_default_ttl_days,omitempty" json:"key_default_ttl_days,omitempty"`
}

// ChatConfig tunes the tool loop and prompt assembly.
type ChatConfig struct {
	MaxRounds      int    `yaml:"max_rounds,omitempty" json:"max_rounds,omitempty"`
	PageHTMLCap    int    `yaml:"page_html_cap,omitempty" json:"page_html_cap,omitempty"`
	PersonaDir     string `yaml:"persona_dir,omitempty" json:"persona_dir,omitempty"`
	SessionDir     string `yaml:"session_dir,omitempty" json:"session_dir,omitempty"`
	WorkspaceRoot  string `yaml:"workspace_root,omitempty" json:"workspace_root,omitempty"`
	TokenizerModel string `yaml:"tokenizer_model,omitempty" json:"tokenizer_model,omitempty"`
}

// WebhooksConfig configures the dispatcher.
type WebhooksConfig struct {
	RegistryPath   string        `yaml:"registry_path,omitempty" json:"registry_path,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
}

// SchedulerConfig locates the persisted task file.
type SchedulerConfig struct {
	TasksPath string `yaml:"tasks_path,omitempty" json:"tasks_path,omitempty"`
}

// AuditConfig locates the audit log and its optional encryption key.
type AuditConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// EncryptKeyEnv names the env var holding a base64 32-byte
	// AES-256-GCM key; empty or unset leaves the log plaintext.
	EncryptKeyEnv string `yaml:"encrypt_key_env,omitempty" json:"encrypt_key_env,omitempty"`
}

// MemoryConfig locates per-agent memory files.
type MemoryConfig struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// ConsentConfig locates the consent timeline.
type ConsentConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// MCPServerConfig is one MCP server bridged into the tool registry.
type MCPServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport,omitempty" json:"transport,omitempty"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Filter    []string          `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// PluginsConfig configures plugin discovery and MCP bridging.
type PluginsConfig struct {
	Enabled            bool              `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Paths              []string          `yaml:"paths,omitempty" json:"paths,omitempty"`
	ScanSubdirectories bool              `yaml:"scan_subdirectories,omitempty" json:"scan_subdirectories,omitempty"`
	MCPServers         []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
}

// ObservabilityConfig configures tracing and metrics; bridged to
// pkg/observability by the composition root.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty" json:"exporter,omitempty"` // otlp or stdout
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// SetDefaults fills every zero field with the gateway's defaults. The
// env var names match the ones the embedding shell already exports.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.CORSOrigins == "" {
		c.Server.CORSOrigins = envOr("GATEWAY_CORS_ORIGINS", "http://127.0.0.1:8080")
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Auth.UsersPath == "" {
		c.Auth.UsersPath = "data/users.json"
	}
	if c.Auth.RevocationPath == "" {
		c.Auth.RevocationPath = "data/revoked_tokens.json"
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = time.Hour
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.Auth.BootstrapSecretEnv == "" {
		c.Auth.BootstrapSecretEnv = "INTELLI_BOOTSTRAP_SECRET"
	}
	if c.Auth.JWT.SecretEnv == "" {
		c.Auth.JWT.SecretEnv = "GATEWAY_JWT_SECRET"
	}

	if c.RateLimits.PerClient.MaxRequests == 0 {
		c.RateLimits.PerClient.MaxRequests = 60
	}
	if c.RateLimits.PerClient.WindowSeconds == 0 {
		c.RateLimits.PerClient.WindowSeconds = 60
	}
	if c.RateLimits.PerUser.MaxRequests == 0 {
		c.RateLimits.PerUser.MaxRequests = 120
	}
	if c.RateLimits.PerUser.WindowSeconds == 0 {
		c.RateLimits.PerUser.WindowSeconds = 60
	}

	if c.Approvals.GateTimeoutSeconds == 0 {
		c.Approvals.GateTimeoutSeconds = 300
	}

	if c.Alerts.WorkerCheckIntervalSeconds < 5 {
		c.Alerts.WorkerCheckIntervalSeconds = 5
	}
	if c.Alerts.ValidationErrorWindowSecs == 0 {
		c.Alerts.ValidationErrorWindowSecs = 60
	}
	if c.Alerts.ValidationErrorThreshold == 0 {
		c.Alerts.ValidationErrorThreshold = 20
	}

	if c.ContentPolicy.RulesPath == "" {
		c.ContentPolicy.RulesPath = envOr("GATEWAY_CONTENT_FILTER_PATH", "data/content_rules.json")
	}
	if c.ContentPolicy.PatternsEnv == "" {
		c.ContentPolicy.PatternsEnv = "GATEWAY_CONTENT_FILTER_PATTERNS"
	}

	if c.Capabilities.ManifestDir == "" {
		c.Capabilities.ManifestDir = "data/manifests"
	}
	if c.Capabilities.AllowSetEnv == "" {
		c.Capabilities.AllowSetEnv = "GATEWAY_ALLOWED_CAPS"
	}
	if c.Capabilities.SchemaDir == "" {
		c.Capabilities.SchemaDir = "data/schemas"
	}

	if c.Providers.OutboundAllowListEnv == "" {
		c.Providers.OutboundAllowListEnv = "INTELLI_PROVIDER_OUTBOUND_ALLOWLIST"
	}
	if c.Providers.KeyMetadataPath == "" {
		c.Providers.KeyMetadataPath = envOr("GATEWAY_KEY_METADATA_PATH", "data/key_metadata.json")
	}
	if c.Providers.Default == "" && len(c.Providers.Adapters) > 0 {
		for name := range c.Providers.Adapters {
			if c.Providers.Default == "" || name < c.Providers.Default {
				c.Providers.Default = name
			}
		}
	}

	if c.Chat.MaxRounds == 0 {
		c.Chat.MaxRounds = 5
	}
	if c.Chat.PageHTMLCap == 0 {
		c.Chat.PageHTMLCap = 8192
	}
	if c.Chat.PersonaDir == "" {
		c.Chat.PersonaDir = "data/personas"
	}
	if c.Chat.SessionDir == "" {
		c.Chat.SessionDir = "data/sessions"
	}
	if c.Chat.WorkspaceRoot == "" {
		c.Chat.WorkspaceRoot = "data/workspace"
	}
	if c.Chat.TokenizerModel == "" {
		c.Chat.TokenizerModel = "gpt-4o"
	}

	if c.Webhooks.RegistryPath == "" {
		c.Webhooks.RegistryPath = "data/webhooks.json"
	}
	if c.Webhooks.MaxRetries == 0 {
		c.Webhooks.MaxRetries = envIntOr("GATEWAY_WEBHOOK_MAX_RETRIES", 3)
	}
	if c.Webhooks.RequestTimeout == 0 {
		c.Webhooks.RequestTimeout = 5 * time.Second
	}

	if c.Scheduler.TasksPath == "" {
		c.Scheduler.TasksPath = "data/schedule.json"
	}

	if c.Audit.Path == "" {
		c.Audit.Path = "data/audit.log"
	}
	if c.Audit.EncryptKeyEnv == "" {
		c.Audit.EncryptKeyEnv = "INTELLI_AUDIT_ENCRYPT_KEY"
	}

	if c.Memory.Dir == "" {
		c.Memory.Dir = envOr("GATEWAY_MEMORY_DIR", "data/agent_memory")
	}
	if c.Consent.Path == "" {
		c.Consent.Path = envOr("GATEWAY_CONSENT_PATH", "data/consent.jsonl")
	}

	if len(c.Plugins.Paths) == 0 {
		c.Plugins.Paths = []string{"./plugins"}
	}

	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = "otlp"
	}
	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = "localhost:4317"
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = 1.0
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "agent-gateway"
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = "gateway"
	}
}

// Validate rejects configurations the gateway cannot safely run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.RateLimits.PerClient.MaxRequests < 1 || c.RateLimits.PerClient.WindowSeconds < 1 {
		return fmt.Errorf("rate_limits.per_client must have max_requests >= 1 and window_seconds >= 1")
	}
	if c.RateLimits.PerUser.MaxRequests < 1 || c.RateLimits.PerUser.WindowSeconds < 1 {
		return fmt.Errorf("rate_limits.per_user must have max_requests >= 1 and window_seconds >= 1")
	}
	if c.Approvals.TimeoutSeconds < 0 {
		return fmt.Errorf("approvals.timeout_seconds must not be negative")
	}
	for name, p := range c.Providers.Adapters {
		switch p.Type {
		case "anthropic", "openai", "gemini", "bedrock", "":
		default:
			return fmt.Errorf("providers.adapters.%s: unknown type %q", name, p.Type)
		}
	}
	for _, e := range c.Providers.Failover {
		if e.Provider == "" {
			return fmt.Errorf("providers.failover: entry with empty provider")
		}
		if _, ok := c.Providers.Adapters[e.Provider]; !ok {
			return fmt.Errorf("providers.failover: unknown provider %q", e.Provider)
		}
	}
	for i, m := range c.Plugins.MCPServers {
		if m.Name == "" {
			return fmt.Errorf("plugins.mcp_servers[%d]: name is required", i)
		}
		if m.Command == "" {
			return fmt.Errorf("plugins.mcp_servers[%d]: command is required", i)
		}
	}
	switch c.Observability.Tracing.Exporter {
	case "", "otlp", "stdout":
	default:
		return fmt.Errorf("observability.tracing.exporter %q not supported", c.Observability.Tracing.Exporter)
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
		return fallback
	}
	return n
}
