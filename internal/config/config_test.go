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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2, cfg.Router.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Router.Backoff.Initial)
	assert.Equal(t, 5*time.Second, cfg.Router.Backoff.Max)
	assert.Equal(t, 2.0, cfg.Router.Backoff.Multiplier)
	assert.Equal(t, 24*time.Hour, cfg.Router.ResultTTL)
	assert.Equal(t, "config/providers.json", cfg.ProvidersFile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, 115*time.Second, cfg.RouteDeadline())
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")
	t.Setenv("TEST_CLIENT_KEY", "client-key")

	path := writeConfig(t, `
server:
  port: "7000"
  env: production
  api_keys: ["ENV:TEST_CLIENT_KEY", "static-key"]
redis:
  enabled: true
  password: "ENV:TEST_REDIS_PASSWORD"
router:
  max_retries: 3
  backoff:
    initial: 50ms
    jitter: 0
  default_chain: [openai, anthropic]
  routes:
    - name: code
      task_types: [code]
      chain: [deepseek, openai]
providers_file: providers.json
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"client-key", "static-key"}, cfg.Server.APIKeys)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Router.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Router.Backoff.Initial)
	assert.Equal(t, 0.0, cfg.Router.Backoff.Jitter)
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.Router.DefaultChain)
	require.Len(t, cfg.Router.Routes, 1)
	assert.Equal(t, []string{"code"}, cfg.Router.Routes[0].TaskTypes)
	assert.Equal(t, []string{"deepseek", "openai"}, cfg.Router.Routes[0].Chain)
}

func TestLoadConfig_EnvLists(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_API_KEYS", "a, b,,c")
	t.Setenv("ROUTER_DEFAULT_CHAIN", "groq,openai")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.Equal(t, []string{"groq", "openai"}, cfg.Router.DefaultChain)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"negative retries":  "router:\n  max_retries: -1\n",
		"jitter too large":  "router:\n  backoff:\n    jitter: 1.5\n",
		"empty chain":       "router:\n  routes:\n    - name: broken\n",
		"sample ratio":      "tracing:\n  sample_ratio: 2\n",
		"deadline too long": "server:\n  write_timeout: 30s\nrouter:\n  deadline: 30s\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfigFile(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestRouteDeadline(t *testing.T) {
	cfg := &Config{}
	cfg.Server.WriteTimeout = 60 * time.Second
	assert.Equal(t, 55*time.Second, cfg.RouteDeadline())

	cfg.Server.WriteTimeout = 6 * time.Second
	assert.Equal(t, 3*time.Second, cfg.RouteDeadline())

	cfg.Router.Deadline = 2 * time.Second
	assert.Equal(t, 2*time.Second, cfg.RouteDeadline())

	cfg = &Config{}
	assert.Zero(t, cfg.RouteDeadline())
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Len(t, cfg.Router.Routes, 4)
	assert.Equal(t, []string{"codestral", "deepseek", "openai"}, cfg.Router.Routes[0].Chain)
	assert.True(t, cfg.Router.Routes[1].Vision)
	assert.Equal(t, 110*time.Second, cfg.RouteDeadline())
}
