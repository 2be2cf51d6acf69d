package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testbench.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Unknown keys produce warnings but don't fail
func TestLoadConfigFromFile_UnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[reply]
imap_user = "inbox@example.test"
typo_setting = 123

[tunnel]
another_unknown = "value"
`)

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))
	assert.Equal(t, "inbox@example.test", cfg.Reply.IMAPUser)
	assert.Equal(t, 4300, cfg.Tunnel.FirstDebuggerPort)
}

func TestLoadConfigFromFile_TrimsStrings(t *testing.T) {
	path := writeConfig(t, `
[tunnel]
service_url = "  http://tunnels.test  "
provider = " ngrok "
`)

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))
	assert.Equal(t, "http://tunnels.test", cfg.Tunnel.ServiceURL)
	assert.True(t, cfg.Tunnel.UsesNgrok())
}

func TestLoadConfigFromFile_SyntaxErrorHint(t *testing.T) {
	path := writeConfig(t, `
[reply]
imap_debug = f
`)

	cfg := NewDefaultConfig()
	require.Error(t, LoadConfigFromFile(path, &cfg))

	hinted := enhanceConfigError(errors.New(`toml: line 3: expected value but found "f" instead`))
	assert.Contains(t, hinted.Error(), "boolean")
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("TUNNEL_SERVICE_URL", "")
	t.Setenv("TCP_TUNNELS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), cfg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[tunnel]
service_url = "http://from-file"
tcp_tunnels = "mail:587"
`)
	t.Setenv("TUNNEL_SERVICE_URL", "http://from-env")
	t.Setenv("TCP_TUNNELS", "")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.Tunnel.ServiceURL)
	assert.Equal(t, "mail:587", cfg.Tunnel.TCPTunnels)
}

func TestDurationGetters(t *testing.T) {
	cfg := NewDefaultConfig()

	delay, err := cfg.Reply.GetMessageDelay()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, delay)

	initial, err := cfg.Reply.GetInitialWait()
	require.NoError(t, err)
	assert.Zero(t, initial)

	cbTimeout, err := cfg.Delivery.GetCircuitBreakerTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cbTimeout)
	assert.Zero(t, cfg.Delivery.GetCircuitBreakerThreshold(), "SMTP breaker is off unless configured")

	cfg.Reply.MessageDelay = "soon"
	_, err = cfg.Reply.GetMessageDelay()
	assert.Error(t, err)

	cfg.Reply.AttemptWait = "-1s"
	_, err = cfg.Reply.GetAttemptWait()
	assert.Error(t, err)
}

func TestDefaultsForZeroValues(t *testing.T) {
	var cfg Config
	assert.Equal(t, 1, cfg.Reply.GetAttempts())
	assert.Equal(t, 4300, cfg.Tunnel.GetFirstDebuggerPort())
	assert.Equal(t, 0, cfg.Delivery.GetCircuitBreakerThreshold())
	assert.Equal(t, 1, cfg.Delivery.GetCircuitBreakerMaxRequests())
	assert.False(t, cfg.Tunnel.UsesNgrok())
}
