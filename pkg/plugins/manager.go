package plugins

import (
	"context"
	"log/slog"

	"github.com/UrHighness01/Intelli-sub000/pkg/registry"
)

// Manager owns every loaded plugin and bridged MCP server, and hands
// the gateway one flat tool list to register.
type Manager struct {
	loader  *Loader
	loaded  *registry.BaseRegistry[*Loaded]
	servers *registry.BaseRegistry[*MCPServer]
	log     *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		loader:  NewLoader(),
		loaded:  registry.NewBaseRegistry[*Loaded](),
		servers: registry.NewBaseRegistry[*MCPServer](),
		log:     logger,
	}
}

// LoadDiscovered starts every discovered grpc plugin; failures are
// logged and skipped so one broken plugin cannot block boot.
func (m *Manager) LoadDiscovered(ctx context.Context, discovered []*Discovered) {
	for _, d := range discovered {
		if d.Manifest.Protocol != ProtocolGRPC {
			continue
		}
		p, err := m.loader.Load(ctx, d)
		if err != nil {
			m.log.Error("plugins: load failed", "plugin", d.Name, "error", err)
			continue
		}
		if err := m.loaded.Register(p.Name, p); err != nil {
			m.log.Error("plugins: duplicate plugin name", "plugin", p.Name)
			m.loader.Unload(p)
			continue
		}
		m.log.Info("plugins: loaded", "plugin", p.Name, "version", p.Manifest.Version)
	}
}

// AddMCPServer registers a configured MCP bridge; the connection is
// deferred until its tools are first listed.
func (m *Manager) AddMCPServer(cfg MCPConfig) error {
	server, err := NewMCPServer(cfg)
	if err != nil {
		return err
	}
	return m.servers.Register(server.Name(), server)
}

// Tools collects every tool from every source. Sources that fail to
// enumerate are logged and skipped.
func (m *Manager) Tools(ctx context.Context) []RegisteredTool {
	var out []RegisteredTool
	for _, p := range m.loaded.List() {
		tools, err := p.Tools(ctx)
		if err != nil {
			m.log.Error("plugins: listing tools failed", "plugin", p.Name, "error", err)
			continue
		}
		out = append(out, tools...)
	}
	for _, s := range m.servers.List() {
		tools, err := s.Tools(ctx)
		if err != nil {
			m.log.Error("plugins: MCP server unavailable", "server", s.Name(), "error", err)
			continue
		}
		out = append(out, tools...)
	}
	return out
}

// Health reports each subprocess plugin's liveness, feeding the alert
// monitor's worker-health probe.
func (m *Manager) Health() map[string]bool {
	out := make(map[string]bool)
	for _, p := range m.loaded.List() {
		out["plugin:"+p.Name] = p.Healthy()
	}
	return out
}

// Close stops every subprocess and disconnects every MCP server.
func (m *Manager) Close() {
	for _, p := range m.loaded.List() {
		m.loader.Unload(p)
	}
	for _, s := range m.servers.List() {
		if err := s.Close(); err != nil {
			m.log.Warn("plugins: MCP close failed", "server", s.Name(), "error", err)
		}
	}
}
