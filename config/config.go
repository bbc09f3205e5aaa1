// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server and worker.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DBPath string `envconfig:"DB_PATH" default:"./data/mdm.db"`

	// RedisAddr empty means in-process locks and no job queue.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	LockWait  time.Duration `envconfig:"LOCK_WAIT" default:"10s"`

	ResyncEnabled  bool          `envconfig:"RESYNC_ENABLED" default:"true"`
	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL" default:"1h"`

	RateLimitPerMin int      `envconfig:"RATE_LIMIT_PER_MIN" default:"300"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"*"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	// WorkerMetricsAddr empty disables the worker's /metrics listener.
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.New("LOG_FORMAT must be text or json")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH must be provided")
	}
	if c.ResyncEnabled && c.ResyncInterval <= 0 {
		return errors.New("RESYNC_INTERVAL must be positive")
	}
	if c.RateLimitPerMin < 0 {
		return errors.New("RATE_LIMIT_PER_MIN must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesRedis reports whether distributed locks and the job queue are enabled.
func (c *Config) UsesRedis() bool {
	return c != nil && c.RedisAddr != ""
}

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
