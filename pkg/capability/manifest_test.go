package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, tool, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(toolFile(tool)))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func toolFile(tool string) string {
	out := make([]byte, 0, len(tool))
	for i := 0; i < len(tool); i++ {
		if tool[i] == '.' {
			out = append(out, '/')
		} else {
			out = append(out, tool[i])
		}
	}
	return string(out) + ".json"
}

func TestDefaultAllowSetIsReadOnly(t *testing.T) {
	r := NewRegistry(t.TempDir(), "")
	assert.Equal(t, []string{"browser.dom", "fs.read"}, r.AllowSet())
}

func TestAllowSetParsing(t *testing.T) {
	r := NewRegistry(t.TempDir(), " fs.read, net.http ,sys.exec ")
	assert.Equal(t, []string{"fs.read", "net.http", "sys.exec"}, r.AllowSet())
}

func TestCheckMissingCapability(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "net.fetch", `{"tool":"net.fetch","required":["net.http","fs.read"]}`)

	r := NewRegistry(dir, "fs.read")
	allowed, denied := r.Check("net.fetch", nil)
	assert.False(t, allowed)
	assert.Equal(t, []string{"net.http"}, denied)
}

func TestCheckNoManifestPasses(t *testing.T) {
	r := NewRegistry(t.TempDir(), "fs.read")
	allowed, denied := r.Check("tool.nobody.heard.of", map[string]any{"x": 1})
	assert.True(t, allowed)
	assert.Nil(t, denied)
}

func TestArgKeyGuard(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "file.read", `{
		"tool": "file.read",
		"required": ["fs.read"],
		"allowed_arg_keys": ["path", "encoding"]
	}`)

	r := NewRegistry(dir, "fs.read")
	allowed, _ := r.Check("file.read", map[string]any{"path": "a.txt"})
	assert.True(t, allowed)

	allowed, denied := r.Check("file.read", map[string]any{"path": "a.txt", "mode": "w"})
	assert.False(t, allowed)
	assert.Equal(t, []string{"arg_keys_not_allowed:mode"}, denied)
}

func TestWildcardDisablesArgKeyGuardOnly(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "file.read", `{
		"tool": "file.read",
		"required": ["fs.read"],
		"allowed_arg_keys": ["path"]
	}`)

	r := NewRegistry(dir, "ALL")
	allowed, _ := r.Check("file.read", map[string]any{"anything": true})
	assert.True(t, allowed)
}

func TestWildcardDoesNotLeakIntoPartialSets(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "file.read", `{
		"tool": "file.read",
		"required": ["fs.read"],
		"allowed_arg_keys": ["path"]
	}`)

	// A partial allow-set still enforces allowed_arg_keys.
	r := NewRegistry(dir, "fs.read,net.http")
	allowed, denied := r.Check("file.read", map[string]any{"path": "x", "extra": 1})
	assert.False(t, allowed)
	assert.Contains(t, denied, "arg_keys_not_allowed:extra")
}

func TestRequiresApprovalAuthoritative(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "file.read", `{"tool":"file.read","requires_approval":false}`)
	writeManifest(t, dir, "sys.exec", `{"tool":"sys.exec","requires_approval":true}`)
	writeManifest(t, dir, "notes.list", `{"tool":"notes.list"}`)

	r := NewRegistry(dir, "ALL")

	explicit, required := r.RequiresApproval("file.read")
	assert.True(t, explicit)
	assert.False(t, required)

	explicit, required = r.RequiresApproval("sys.exec")
	assert.True(t, explicit)
	assert.True(t, required)

	// Present but silent manifest falls back to the heuristic.
	explicit, _ = r.RequiresApproval("notes.list")
	assert.False(t, explicit)

	explicit, _ = r.RequiresApproval("no.manifest")
	assert.False(t, explicit)
}

func TestNegativeCacheAndReload(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, "ALL")

	_, ok := r.Get("file.read")
	assert.False(t, ok)

	writeManifest(t, dir, "file.read", `{"tool":"file.read"}`)
	// Still cached as absent until an explicit reload.
	_, ok = r.Get("file.read")
	assert.False(t, ok)

	r.Reload()
	man, ok := r.Get("file.read")
	require.True(t, ok)
	assert.Equal(t, "file.read", man.Tool)
}

func TestRegisterManifestInjectsPluginTool(t *testing.T) {
	r := NewRegistry(t.TempDir(), "fs.read")
	required := true
	r.RegisterManifest(&Manifest{
		Tool:             "notes.append",
		Required:         []string{"fs.write"},
		RequiresApproval: &required,
	})

	allowed, denied := r.Check("notes.append", nil)
	assert.False(t, allowed)
	assert.Equal(t, []string{"fs.write"}, denied)

	explicit, req := r.RequiresApproval("notes.append")
	assert.True(t, explicit)
	assert.True(t, req)
}

func TestKnownToolsAndSuggest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "file.read", `{"tool":"file.read"}`)
	writeManifest(t, dir, "file.write", `{"tool":"file.write"}`)

	r := NewRegistry(dir, "ALL")
	assert.Equal(t, []string{"file.read", "file.write"}, r.KnownTools())

	assert.Equal(t, "file.read", r.Suggest("file.reed", nil))
	assert.Equal(t, "shell_exec", r.Suggest("shel_exec", []string{"shell_exec"}))
	assert.Equal(t, "", r.Suggest("completely.unrelated", nil))
}
