package plugins

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// ToolProvider is the contract a subprocess plugin implements. Args
// cross the boundary as JSON text so the wire shape stays stable
// regardless of either side's Go version.
type ToolProvider interface {
	ListTools() ([]ToolDecl, error)
	InvokeTool(name string, argsJSON string) (string, error)
}

// Handshake is shared by the gateway and every tool plugin; a cookie
// mismatch means the executable is not a gateway plugin at all.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "GATEWAY_PLUGIN",
	MagicCookieValue: "intelli-agent-gateway",
}

// pluginMapKey is the dispense key for tool providers.
const pluginMapKey = "tool_provider"

// invokeArgs is the RPC request for InvokeTool.
type invokeArgs struct {
	Name     string
	ArgsJSON string
}

// toolProviderRPCClient is the gateway-side stub.
type toolProviderRPCClient struct {
	client *rpc.Client
}

func (c *toolProviderRPCClient) ListTools() ([]ToolDecl, error) {
	var resp []ToolDecl
	err := c.client.Call("Plugin.ListTools", struct{}{}, &resp)
	return resp, err
}

func (c *toolProviderRPCClient) InvokeTool(name string, argsJSON string) (string, error) {
	var resp string
	err := c.client.Call("Plugin.InvokeTool", invokeArgs{Name: name, ArgsJSON: argsJSON}, &resp)
	return resp, err
}

// toolProviderRPCServer is the plugin-side dispatcher.
type toolProviderRPCServer struct {
	impl ToolProvider
}

func (s *toolProviderRPCServer) ListTools(_ struct{}, resp *[]ToolDecl) error {
	tools, err := s.impl.ListTools()
	if err != nil {
		return err
	}
	*resp = tools
	return nil
}

func (s *toolProviderRPCServer) InvokeTool(args invokeArgs, resp *string) error {
	out, err := s.impl.InvokeTool(args.Name, args.ArgsJSON)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// toolProviderPlugin wires the client/server pair into go-plugin.
type toolProviderPlugin struct {
	impl ToolProvider
}

func (p *toolProviderPlugin) Server(_ *goplugin.MuxBroker) (any, error) {
	return &toolProviderRPCServer{impl: p.impl}, nil
}

func (p *toolProviderPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &toolProviderRPCClient{client: c}, nil
}

// Serve is the entry point for plugin executables:
//
//	func main() { plugins.Serve(&myProvider{}) }
func Serve(impl ToolProvider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginMapKey: &toolProviderPlugin{impl: impl},
		},
	})
}
