package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
name: notes
version: 1.2.0
description: Append-only notes store.
protocol: grpc
command: ./notes-plugin
tools:
  - name: notes.append
    description: Append a note.
    args:
      text:
        type: string
        required: true
    required_caps: [fs.write]
    risk_level: medium
  - name: notes.search
    description: Search notes.
    args:
      query:
        type: string
        required: true
    required_caps: [fs.read]
`

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(content), 0o600))
}

func TestDiscoverFindsManifests(t *testing.T) {
	root := t.TempDir()
	pluginDir := filepath.Join(root, "notes")
	require.NoError(t, os.Mkdir(pluginDir, 0o755))
	writeManifest(t, pluginDir, sampleManifest)

	found, errs := Discover(DiscoveryConfig{
		Enabled:            true,
		Paths:              []string{root},
		ScanSubdirectories: true,
	})
	require.Empty(t, errs)
	require.Len(t, found, 1)

	d := found[0]
	assert.Equal(t, "notes", d.Name)
	assert.Equal(t, ProtocolGRPC, d.Manifest.Protocol)
	require.Len(t, d.Manifest.Tools, 2)
	assert.Equal(t, "notes.append", d.Manifest.Tools[0].Name)
	assert.True(t, d.Manifest.Tools[0].Args["text"].Required)
	assert.Equal(t, []string{"fs.write"}, d.Manifest.Tools[0].RequiredCaps)

	// Relative command resolves against the plugin directory.
	assert.Equal(t, filepath.Join(pluginDir, "notes-plugin"), d.Manifest.Command)
}

func TestDiscoverDisabled(t *testing.T) {
	found, errs := Discover(DiscoveryConfig{Paths: []string{t.TempDir()}})
	assert.Nil(t, found)
	assert.Nil(t, errs)
}

func TestDiscoverReportsMalformedManifest(t *testing.T) {
	root := t.TempDir()
	bad := filepath.Join(root, "bad")
	good := filepath.Join(root, "good")
	require.NoError(t, os.Mkdir(bad, 0o755))
	require.NoError(t, os.Mkdir(good, 0o755))
	writeManifest(t, bad, "name: bad\nprotocol: carrier-pigeon\ncommand: ./x\n")
	writeManifest(t, good, sampleManifest)

	found, errs := Discover(DiscoveryConfig{
		Enabled:            true,
		Paths:              []string{root},
		ScanSubdirectories: true,
	})
	require.Len(t, found, 1)
	assert.Equal(t, "notes", found[0].Name)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unsupported protocol")
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  string
	}{
		{"missing name", Manifest{Protocol: ProtocolGRPC, Command: "./x"}, "name is required"},
		{"missing command", Manifest{Name: "x", Protocol: ProtocolMCP}, "command is required"},
		{"bad protocol", Manifest{Name: "x", Protocol: "dylib", Command: "./x"}, "unsupported protocol"},
		{"empty tool name", Manifest{Name: "x", Protocol: ProtocolGRPC, Command: "./x", Tools: []ToolDecl{{}}}, "empty name"},
		{"ok", Manifest{Name: "x", Protocol: ProtocolGRPC, Command: "./x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "notes.search", qualifiedName("notes", "search"))
	assert.Equal(t, "search", qualifiedName("", "search"))
}

func TestNewMCPServerRequiresCommand(t *testing.T) {
	_, err := NewMCPServer(MCPConfig{Name: "notes"})
	require.Error(t, err)

	s, err := NewMCPServer(MCPConfig{Name: "notes", Command: "notes-mcp", Filter: []string{"search"}})
	require.NoError(t, err)
	assert.Equal(t, "notes", s.Name())
	assert.True(t, s.filter["search"])
}
