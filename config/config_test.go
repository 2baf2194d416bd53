package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Session.MailboxSize)
	assert.Equal(t, 2*time.Minute, cfg.Session.QuietPeriod)
	assert.Equal(t, 5, cfg.Session.MaxEditIterations)
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Session.ActivityTimeout)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Archive.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  max_edit_iterations: 3
  quiet_period: 30s
redis:
  addr: localhost:6379
  key_prefix: "staging:"
archive:
  dsn: scout.db
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.MaxEditIterations)
	assert.Equal(t, 30*time.Second, cfg.Session.QuietPeriod)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "staging:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "scout.db", cfg.Archive.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 32, cfg.Session.MailboxSize)
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatInterval)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: from-file:6379
session:
  quiet_period: 30s
`), 0o644))

	t.Setenv("SCOUTFLOW_REDIS_ADDR", "from-env:6379")
	t.Setenv("SCOUTFLOW_SESSION_QUIET_PERIOD", "45s")
	t.Setenv("SCOUTFLOW_SESSION_MAX_EDIT_ITERATIONS", "7")
	t.Setenv("SCOUTFLOW_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Redis.Addr)
	assert.Equal(t, 45*time.Second, cfg.Session.QuietPeriod)
	assert.Equal(t, 7, cfg.Session.MaxEditIterations)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero mailbox", func(c *Config) { c.Session.MailboxSize = 0 }},
		{"zero edit iterations", func(c *Config) { c.Session.MaxEditIterations = 0 }},
		{"zero quiet period", func(c *Config) { c.Session.QuietPeriod = 0 }},
		{"zero heartbeat", func(c *Config) { c.Session.HeartbeatInterval = 0 }},
		{"zero activity timeout", func(c *Config) { c.Session.ActivityTimeout = 0 }},
		{"negative tool rate", func(c *Config) { c.Tool.RatePerSecond = -1 }},
		{"rate without burst", func(c *Config) {
			c.Tool.RatePerSecond = 5
			c.Tool.RateBurst = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
