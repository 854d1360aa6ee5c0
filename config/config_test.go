package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BILLING_CONFIG", "BILLING_PORT", "BILLING_DB", "BILLING_LOG_LEVEL", "BILLING_LOG_FORMAT",
		"BILLING_BATCH_SIZE", "BILLING_CORS_ORIGINS", "BILLING_METRICS", "BILLING_SCHEDULER_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: 9090
db_path: /var/lib/billing/billing.db
log_level: debug
log_format: text
batch_size: 25
cors_origins:
  - https://billing.example.org
metrics: false
scheduler_interval: 30s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/billing/billing.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, []string{"https://billing.example.org"}, cfg.CORSOrigins)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "port: 9090\nbatch_size: 25\n")
	t.Setenv("BILLING_CONFIG", path)
	t.Setenv("BILLING_PORT", "7070")
	t.Setenv("BILLING_CORS_ORIGINS", "https://a.example.org, https://b.example.org,")
	t.Setenv("BILLING_METRICS", "false")
	t.Setenv("BILLING_SCHEDULER_INTERVAL", "0s")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.CORSOrigins)
	assert.False(t, cfg.Metrics)
	assert.Zero(t, cfg.SchedulerInterval)
}

func TestLoad_UnparseableEnvKeepsValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("BILLING_PORT", "eighty")
	t.Setenv("BILLING_METRICS", "maybe")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.Metrics)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = config.Load(writeConfig(t, "port: [1, 2"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = config.Load(writeConfig(t, "batch_size: 0\n"))
	assert.ErrorContains(t, err, "batch size")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"port zero":         func(c *config.Config) { c.Port = 0 },
		"port too large":    func(c *config.Config) { c.Port = 70000 },
		"empty db path":     func(c *config.Config) { c.DBPath = "" },
		"negative batch":    func(c *config.Config) { c.BatchSize = -1 },
		"negative interval": func(c *config.Config) { c.SchedulerInterval = -time.Second },
	}

	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, config.Default().Validate())
}
