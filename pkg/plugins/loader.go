package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
)

// Loaded is a running subprocess plugin and its dispensed provider.
type Loaded struct {
	Name     string
	Manifest *Manifest
	Status   Status

	client   *goplugin.Client
	provider ToolProvider
}

// Loader starts and stops go-plugin subprocesses.
type Loader struct {
	logger hclog.Logger
}

func NewLoader() *Loader {
	return &Loader{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "gateway-plugin",
			Level: hclog.Info,
		}),
	}
}

// Load starts the plugin executable and dispenses its tool provider.
func (l *Loader) Load(ctx context.Context, d *Discovered) (*Loaded, error) {
	if d == nil || d.Manifest == nil {
		return nil, fmt.Errorf("plugin manifest is required")
	}
	if d.Manifest.Protocol != ProtocolGRPC {
		return nil, fmt.Errorf("plugin %s: loader only handles %s plugins", d.Name, ProtocolGRPC)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginMapKey: &toolProviderPlugin{},
		},
		Cmd:    exec.Command(d.Manifest.Command, d.Manifest.Args...),
		Logger: l.logger.Named(d.Name),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, &Error{Plugin: d.Name, Operation: "connect", Err: err}
	}

	raw, err := rpcClient.Dispense(pluginMapKey)
	if err != nil {
		client.Kill()
		return nil, &Error{Plugin: d.Name, Operation: "dispense", Err: err}
	}

	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return nil, &Error{Plugin: d.Name, Operation: "dispense", Err: fmt.Errorf("unexpected provider type %T", raw)}
	}

	return &Loaded{
		Name:     d.Name,
		Manifest: d.Manifest,
		Status:   StatusReady,
		client:   client,
		provider: provider,
	}, nil
}

// Unload kills the subprocess.
func (l *Loader) Unload(p *Loaded) {
	if p == nil || p.client == nil {
		return
	}
	p.client.Kill()
	p.Status = StatusShutdown
}

// Healthy reports whether the subprocess is still reachable.
func (p *Loaded) Healthy() bool {
	return p.client != nil && !p.client.Exited()
}

// Tools resolves the plugin's tool list. The manifest's declarations
// are authoritative for capability metadata; the live provider is
// consulted for the executable list, and any tool the provider reports
// that the manifest omits is exposed with no declared caps, which the
// capability registry treats as deny-by-default for non-read allow-sets.
func (p *Loaded) Tools(ctx context.Context) ([]RegisteredTool, error) {
	live, err := p.provider.ListTools()
	if err != nil {
		return nil, &Error{Plugin: p.Name, Operation: "list_tools", Err: err}
	}

	declared := make(map[string]ToolDecl, len(p.Manifest.Tools))
	for _, t := range p.Manifest.Tools {
		declared[t.Name] = t
	}

	out := make([]RegisteredTool, 0, len(live))
	for _, t := range live {
		decl := t
		if d, ok := declared[t.Name]; ok {
			decl = d
		}
		name := t.Name
		out = append(out, RegisteredTool{
			Decl:   decl,
			Source: p.Name,
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				raw, err := json.Marshal(args)
				if err != nil {
					return "", err
				}
				return p.provider.InvokeTool(name, string(raw))
			},
		})
	}
	return out, nil
}
