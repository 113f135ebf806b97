// Package plugins discovers and loads external tool providers and
// bridges them into the gateway's tool registry. Two protocols are
// supported: subprocess plugins over hashicorp/go-plugin, and MCP
// servers over stdio. Native code loading is deliberately absent —
// every plugin runs behind a process boundary.
package plugins

import (
	"context"
	"fmt"
)

// Protocol is how a plugin's tools are reached.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolMCP  Protocol = "mcp"
)

// Status is the lifecycle state of a loaded plugin.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
	StatusShutdown Status = "shutdown"
)

// ArgDecl declares one argument of a plugin-provided tool.
type ArgDecl struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// ToolDecl is one tool a plugin manifest declares. RequiredCaps and the
// approval fields feed the capability registry so plugin tools go
// through the same supervision as built-ins.
type ToolDecl struct {
	Name             string             `yaml:"name" json:"name"`
	Description      string             `yaml:"description,omitempty" json:"description,omitempty"`
	Args             map[string]ArgDecl `yaml:"args,omitempty" json:"args,omitempty"`
	RequiredCaps     []string           `yaml:"required_caps,omitempty" json:"required_caps,omitempty"`
	RiskLevel        string             `yaml:"risk_level,omitempty" json:"risk_level,omitempty"`
	RequiresApproval *bool              `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
}

// Manifest is a plugin's on-disk declaration (plugin.yaml next to the
// executable).
type Manifest struct {
	Name        string     `yaml:"name" json:"name"`
	Version     string     `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string     `yaml:"author,omitempty" json:"author,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Protocol    Protocol   `yaml:"protocol" json:"protocol"`
	Command     string     `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string   `yaml:"args,omitempty" json:"args,omitempty"`
	Tools       []ToolDecl `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Validate rejects manifests the loader cannot act on.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin manifest: name is required")
	}
	switch m.Protocol {
	case ProtocolGRPC, ProtocolMCP:
	default:
		return fmt.Errorf("plugin %s: unsupported protocol %q", m.Name, m.Protocol)
	}
	if m.Command == "" {
		return fmt.Errorf("plugin %s: command is required", m.Name)
	}
	for _, t := range m.Tools {
		if t.Name == "" {
			return fmt.Errorf("plugin %s: tool with empty name", m.Name)
		}
	}
	return nil
}

// RegisteredTool is a plugin tool as surfaced to the gateway: enough
// metadata to build a capability manifest and a prompt entry, plus an
// invoker that crosses the process boundary.
type RegisteredTool struct {
	Decl   ToolDecl
	Source string // plugin or MCP server name
	Invoke func(ctx context.Context, args map[string]any) (string, error)
}

// Error wraps a plugin failure with the plugin's identity.
type Error struct {
	Plugin    string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
