package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("IM_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverBolt, cfg.DBDriver)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.False(t, cfg.SanitizeContent)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("IM_JWT_SECRET", "s3cret")
	t.Setenv("IM_DB_DRIVER", "postgres")
	t.Setenv("IM_DB_DSN", "postgres://localhost/im")
	t.Setenv("IM_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("IM_HEARTBEAT_TIMEOUT", "30s")
	t.Setenv("IM_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("IM_JWT_SECRET", "s3cret")
	t.Setenv("IM_HEARTBEAT_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBDriver:          DriverBolt,
			BoltPath:          "im.db",
			JWTSecret:         "x",
			HeartbeatInterval: time.Minute,
			HeartbeatTimeout:  2 * time.Minute,
			SendBuffer:        8,
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"postgres without dsn":   func(c *Config) { c.DBDriver = DriverPostgres },
		"unknown driver":         func(c *Config) { c.DBDriver = "mysql" },
		"no secret":              func(c *Config) { c.JWTSecret = "" },
		"zero timeout":           func(c *Config) { c.HeartbeatTimeout = 0 },
		"timeout below interval": func(c *Config) { c.HeartbeatTimeout = 30 * time.Second },
		"zero buffer":            func(c *Config) { c.SendBuffer = 0 },
		"bolt without path":      func(c *Config) { c.BoltPath = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, (&Config{}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelError, (&Config{LogLevel: "error"}).SlogLevel())
}
