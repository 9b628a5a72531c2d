package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(10), cfg.Chain.SignInChainID)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, PolicyDeny, cfg.Confirm.Policy)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "host.yaml", `
server:
  listen_addr: ":9999"
  idle_timeout: 2m
chain:
  rpc_url: "https://rpc.example"
  signin_chain_id: 8453
store:
  driver: sqlite
  dsn: "file:test.db"
confirm:
  policy: approve
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, int64(8453), cfg.Chain.SignInChainID)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, PolicyApprove, cfg.Confirm.Policy)
	// untouched sections keep defaults
	assert.Equal(t, "/v1/bridge", cfg.Server.BridgePath)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "host.toml", `
[client]
platform_type = "web"
client_fid = 42

[logging]
level = "debug"
format = "text"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Client.PlatformType)
	assert.Equal(t, int64(42), cfg.Client.ClientFID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MINIAPP_LISTEN_ADDR", ":7000")
	t.Setenv("MINIAPP_WALLET_PRIVATE_KEY", "abc")
	t.Setenv("MINIAPP_MANIFEST_TTL", "1h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "abc", cfg.Wallet.PrivateKey)
	assert.Equal(t, time.Hour, cfg.Manifest.TTL)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "host.ini", "x=1")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Server.ListenAddr = "" }},
		{"bad bridge path", func(c *Config) { c.Server.BridgePath = "bridge" }},
		{"zero chain", func(c *Config) { c.Chain.SignInChainID = 0 }},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"redis without addr", func(c *Config) { c.Store.Driver = "redis" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"bad policy", func(c *Config) { c.Confirm.Policy = "ask" }},
		{"zero ttl", func(c *Config) { c.Manifest.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
