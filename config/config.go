// Package config loads scoutflow configuration: defaults, overridden by a
// YAML file, overridden by environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full scoutflow configuration.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Tool    ToolConfig    `yaml:"tool"`
	Redis   RedisConfig   `yaml:"redis"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SessionConfig tunes the orchestration core.
type SessionConfig struct {
	// MailboxSize is the per-session signal queue capacity.
	MailboxSize int `yaml:"mailbox_size"`
	// QuietPeriod is the idle duration before an input-waiting session
	// bulk-persists its buffer and terminates.
	QuietPeriod time.Duration `yaml:"quiet_period"`
	// MaxEditIterations bounds approve/reject/edit cycles.
	MaxEditIterations int `yaml:"max_edit_iterations"`
	// HeartbeatInterval paces keepalive events on idle sessions.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ActivityTimeout bounds a single step invocation. Approval waits are
	// exempt.
	ActivityTimeout time.Duration `yaml:"activity_timeout"`
}

// ToolConfig tunes tool execution.
type ToolConfig struct {
	// RatePerSecond caps tool execution attempts across the process. Zero
	// disables the limiter.
	RatePerSecond float64 `yaml:"rate_per_second"`
	// RateBurst is the limiter's burst size. Only read when RatePerSecond
	// is set.
	RateBurst int `yaml:"rate_burst"`
}

// RedisConfig selects the Redis backends for checkpoints and events. An
// empty Addr keeps everything in process memory.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ArchiveConfig selects the durable archive for buffer flushes. An empty
// DSN disables archiving.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig tunes logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig tunes Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Session: SessionConfig{
			MailboxSize:       32,
			QuietPeriod:       2 * time.Minute,
			MaxEditIterations: 5,
			HeartbeatInterval: 15 * time.Second,
			ActivityTimeout:   5 * time.Minute,
		},
		Tool: ToolConfig{
			RateBurst: 1,
		},
		Redis: RedisConfig{
			KeyPrefix: "scoutflow:",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "scoutflow",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then SCOUTFLOW_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Session.MailboxSize <= 0 {
		return fmt.Errorf("session.mailbox_size must be positive")
	}
	if c.Session.MaxEditIterations <= 0 {
		return fmt.Errorf("session.max_edit_iterations must be positive")
	}
	if c.Session.QuietPeriod <= 0 {
		return fmt.Errorf("session.quiet_period must be positive")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive")
	}
	if c.Session.ActivityTimeout <= 0 {
		return fmt.Errorf("session.activity_timeout must be positive")
	}
	if c.Tool.RatePerSecond < 0 {
		return fmt.Errorf("tool.rate_per_second must not be negative")
	}
	if c.Tool.RatePerSecond > 0 && c.Tool.RateBurst <= 0 {
		return fmt.Errorf("tool.rate_burst must be positive when tool.rate_per_second is set")
	}
	return nil
}

// applyEnv overlays SCOUTFLOW_* variables onto the configuration.
func applyEnv(cfg *Config) {
	setString(&cfg.Redis.Addr, "SCOUTFLOW_REDIS_ADDR")
	setString(&cfg.Redis.Password, "SCOUTFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCOUTFLOW_REDIS_DB")
	setString(&cfg.Redis.KeyPrefix, "SCOUTFLOW_REDIS_KEY_PREFIX")
	setString(&cfg.Archive.DSN, "SCOUTFLOW_ARCHIVE_DSN")
	setString(&cfg.Log.Level, "SCOUTFLOW_LOG_LEVEL")
	setBool(&cfg.Log.Development, "SCOUTFLOW_LOG_DEVELOPMENT")
	setBool(&cfg.Metrics.Enabled, "SCOUTFLOW_METRICS_ENABLED")
	setString(&cfg.Metrics.Namespace, "SCOUTFLOW_METRICS_NAMESPACE")
	setInt(&cfg.Session.MailboxSize, "SCOUTFLOW_SESSION_MAILBOX_SIZE")
	setInt(&cfg.Session.MaxEditIterations, "SCOUTFLOW_SESSION_MAX_EDIT_ITERATIONS")
	setDuration(&cfg.Session.QuietPeriod, "SCOUTFLOW_SESSION_QUIET_PERIOD")
	setDuration(&cfg.Session.HeartbeatInterval, "SCOUTFLOW_SESSION_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Session.ActivityTimeout, "SCOUTFLOW_SESSION_ACTIVITY_TIMEOUT")
	setFloat(&cfg.Tool.RatePerSecond, "SCOUTFLOW_TOOL_RATE_PER_SECOND")
	setInt(&cfg.Tool.RateBurst, "SCOUTFLOW_TOOL_RATE_BURST")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
