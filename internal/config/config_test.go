package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvSettlementURL, EnvAdminKey, EnvCompletionURL, EnvModel,
		EnvMaxTokens, EnvPaymentTimeout, EnvPropagationDelay, EnvPort,
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 500*time.Millisecond, cfg.Payment.PropagationDelay)
	assert.Equal(t, 30*time.Second, cfg.Payment.Timeout)
	assert.Empty(t, cfg.Settlement.AdminKey)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
completion:
  url: http://localhost:9000/v1/messages
  max_tokens: 64
  models: [claude-haiku]
  aliases:
    fast: claude-haiku
  headers:
    X-Client: lnprox
settlement:
  admin_key: file-key
payment:
  timeout: 5s
  propagation_delay: 50ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/v1/messages", cfg.Completion.URL)
	assert.Equal(t, DefaultModel, cfg.Completion.Model)
	assert.Equal(t, 64, cfg.Completion.MaxTokens)
	assert.Equal(t, "file-key", cfg.Settlement.AdminKey)
	assert.Equal(t, DefaultSettlementURL, cfg.Settlement.URL)
	assert.Equal(t, 5*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Payment.PropagationDelay)
	assert.Equal(t, "lnprox", cfg.Completion.Headers["X-Client"])
	assert.Equal(t, []string{DefaultModel, "claude-haiku"}, cfg.Completion.ModelIDs())
}

func TestLoadEnvironmentWins(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "settlement:\n  admin_key: file-key\n")

	t.Setenv(EnvAdminKey, "env-key")
	t.Setenv(EnvSettlementURL, "https://wallet.example.com")
	t.Setenv(EnvMaxTokens, "150")
	t.Setenv(EnvPaymentTimeout, "45")
	t.Setenv(EnvPropagationDelay, "1s")
	t.Setenv(EnvPort, "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Settlement.AdminKey)
	assert.Equal(t, "https://wallet.example.com", cfg.Settlement.URL)
	assert.Equal(t, 150, cfg.Completion.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, time.Second, cfg.Payment.PropagationDelay)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMaxTokens, "lots")

	_, err := Load("")
	assert.ErrorContains(t, err, EnvMaxTokens)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LNBITS_ADMIN_KEY=dotenv-key\n"), 0o600))
	require.NoError(t, os.Unsetenv(EnvAdminKey))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "dotenv-key", os.Getenv(EnvAdminKey))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, LoadEnvFile(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "missing completion url", mutate: func(c *Config) { c.Completion.URL = "" }, wantErr: "completion.url"},
		{name: "non http settlement url", mutate: func(c *Config) { c.Settlement.URL = "ftp://wallet" }, wantErr: "settlement.url"},
		{name: "zero max tokens", mutate: func(c *Config) { c.Completion.MaxTokens = 0 }, wantErr: "max_tokens"},
		{name: "empty model", mutate: func(c *Config) { c.Completion.Model = " " }, wantErr: "completion.model"},
		{name: "bad header", mutate: func(c *Config) { c.Completion.Headers = Headers{"X Bad": "1"} }, wantErr: "canonical"},
		{name: "payment hash header", mutate: func(c *Config) { c.Completion.Headers = Headers{"X-Payment-Hash": "stale-charge"} }, wantErr: "cannot be configured"},
		{name: "lower case payment hash header", mutate: func(c *Config) { c.Completion.Headers = Headers{"x-payment-hash": "stale-charge"} }, wantErr: "cannot be configured"},
		{name: "content type header", mutate: func(c *Config) { c.Completion.Headers = Headers{"Content-Type": "text/plain"} }, wantErr: "cannot be configured"},
		{name: "empty alias target", mutate: func(c *Config) { c.Completion.Aliases = map[string]string{"fast": ""} }, wantErr: "alias"},
		{name: "negative timeout", mutate: func(c *Config) { c.Payment.Timeout = -time.Second }, wantErr: "payment.timeout"},
		{name: "negative delay", mutate: func(c *Config) { c.Payment.PropagationDelay = -time.Second }, wantErr: "propagation_delay"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "chatty" }, wantErr: "log.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "missing admin key is not a config validation error", mutate: func(c *Config) { c.Settlement.AdminKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadExampleConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultModel, "claude-3-5-haiku-20241022"}, cfg.Completion.ModelIDs())
	assert.Equal(t, DefaultModel, cfg.Completion.Aliases["sonnet"])
	assert.Equal(t, DefaultPropagationDelay, cfg.Payment.PropagationDelay)
	assert.Empty(t, cfg.Settlement.AdminKey)
}
