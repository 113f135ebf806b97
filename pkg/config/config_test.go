package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 60, cfg.RateLimits.PerClient.MaxRequests)
	assert.Equal(t, "GATEWAY_ALLOWED_CAPS", cfg.Capabilities.AllowSetEnv)
	assert.Equal(t, "INTELLI_BOOTSTRAP_SECRET", cfg.Auth.BootstrapSecretEnv)
	assert.Equal(t, 5*time.Second, cfg.Webhooks.RequestTimeout)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_GATEWAY_HOST", "0.0.0.0")
	path := writeConfig(t, "server:\n  host: ${TEST_GATEWAY_HOST}\n  port: 8090\n")

	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadEnvVarDefaultSyntax(t *testing.T) {
	path := writeConfig(t, "server:\n  host: ${UNSET_GATEWAY_HOST:-10.1.2.3}\n")

	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", cfg.Server.Host)
}

func TestEnvOverridePrefix(t *testing.T) {
	t.Setenv("GATEWAY__SERVER__PORT", "7070")
	path := writeConfig(t, "server:\n  port: 8090\n")

	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejectsUnknownFailoverProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  adapters:
    openai:
      type: openai
      api_key_env: INTELLI_OPENAI_KEY
  failover:
    - provider: anthropic
`)
	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	_, err = loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestValidateRejectsBadAdapterType(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.Adapters = map[string]ProviderConfig{"x": {Type: "mystery"}}
	cfg.SetDefaults()
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMCPServerWithoutCommand(t *testing.T) {
	cfg := &Config{}
	cfg.Plugins.MCPServers = []MCPServerConfig{{Name: "notes"}}
	cfg.SetDefaults()
	require.Error(t, cfg.Validate())
}

func TestDurationDecode(t *testing.T) {
	path := writeConfig(t, "webhooks:\n  request_timeout: 2s\nauth:\n  access_ttl: 30m\n")

	loader, err := NewLoader(LoaderOptions{Path: path})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Webhooks.RequestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTTL)
}

func TestFileWatcherDispatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(target, []byte("[]"), 0o600))

	w, err := NewFileWatcher(nil)
	require.NoError(t, err)
	defer w.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, w.WatchPath(target, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))
	go w.Run()

	require.NoError(t, os.WriteFile(target, []byte(`[{"label":"x","pattern":"y"}]`), 0o600))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}
