package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServer bridges one MCP server (stdio transport) into the tool
// registry. The connection is established lazily on the first Tools
// call.
type MCPServer struct {
	name    string
	command string
	args    []string
	env     map[string]string
	filter  map[string]bool

	mu        sync.Mutex
	client    *client.Client
	tools     []RegisteredTool
	connected bool
}

// MCPConfig configures one bridged server.
type MCPConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string

	// Filter limits which tools are exposed; empty exposes all.
	Filter []string
}

// NewMCPServer validates cfg and returns an unconnected bridge.
func NewMCPServer(cfg MCPConfig) (*MCPServer, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: command is required", cfg.Name)
	}
	var filter map[string]bool
	if len(cfg.Filter) > 0 {
		filter = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filter[name] = true
		}
	}
	return &MCPServer{
		name:    cfg.Name,
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		filter:  filter,
	}, nil
}

// Name returns the configured server name.
func (s *MCPServer) Name() string { return s.name }

// Tools lists the server's tools, connecting on first use.
func (s *MCPServer) Tools(ctx context.Context) ([]RegisteredTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		if err := s.connect(ctx); err != nil {
			return nil, &Error{Plugin: s.name, Operation: "connect", Err: err}
		}
	}
	return s.tools, nil
}

func (s *MCPServer) connect(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.command, envList(s.env), s.args...)
	if err != nil {
		return err
	}
	if err := mcpClient.Start(ctx); err != nil {
		return err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "agent-gateway",
		Version: "1.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return err
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return err
	}

	var tools []RegisteredTool
	for _, t := range listResp.Tools {
		if s.filter != nil && !s.filter[t.Name] {
			continue
		}
		name := t.Name
		tools = append(tools, RegisteredTool{
			Decl: ToolDecl{
				Name:        qualifiedName(s.name, t.Name),
				Description: t.Description,
				Args:        convertInputSchema(t.InputSchema),
			},
			Source: s.name,
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return s.call(ctx, name, args)
			},
		})
	}

	s.client = mcpClient
	s.tools = tools
	s.connected = true
	slog.Info("plugins: connected to MCP server", "name", s.name, "command", s.command, "tools", len(tools))
	return nil
}

func (s *MCPServer) call(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	mcpClient := s.client
	s.mu.Unlock()
	if mcpClient == nil {
		return "", &Error{Plugin: s.name, Operation: "call", Err: fmt.Errorf("not connected")}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", &Error{Plugin: s.name, Operation: "call " + name, Err: err}
	}

	var parts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if resp.IsError {
		return "", &Error{Plugin: s.name, Operation: "call " + name, Err: fmt.Errorf("%s", out)}
	}
	return out, nil
}

// Close disconnects from the server.
func (s *MCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.connected = false
	return err
}

// qualifiedName namespaces an MCP tool under its server so two servers
// exporting the same tool name cannot collide in the registry.
func qualifiedName(server, tool string) string {
	if server == "" {
		return tool
	}
	return server + "." + tool
}

func convertInputSchema(schema mcp.ToolInputSchema) map[string]ArgDecl {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	out := make(map[string]ArgDecl, len(schema.Properties))
	for name, prop := range schema.Properties {
		decl := ArgDecl{Type: "string", Required: required[name]}
		if m, ok := prop.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				decl.Type = t
			}
			if d, ok := m["description"].(string); ok {
				decl.Description = d
			}
		}
		out[name] = decl
	}
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
