package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, time.Hour, cfg.ResyncInterval)
	assert.Equal(t, 10*time.Second, cfg.LockWait)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.UsesRedis())
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, ":9090", cfg.WorkerMetricsAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("RESYNC_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 15*time.Minute, cfg.ResyncInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "log format", key: "LOG_FORMAT", val: "xml"},
		{name: "interval", key: "RESYNC_INTERVAL", val: "0s"},
		{name: "rate limit", key: "RATE_LIMIT_PER_MIN", val: "-1"},
		{name: "malformed duration", key: "LOCK_WAIT", val: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("stock low", slog.String("user", "school-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stock low", line["msg"])
	assert.Equal(t, "school-1", line["user"])
	assert.Contains(t, line, "source")
}
