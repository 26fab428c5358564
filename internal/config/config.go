package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config is read from IM_* environment variables.
type Config struct {
	Env      string `envconfig:"env" default:"development"`
	Port     string `envconfig:"port" default:"8080"`
	GRPCPort string `envconfig:"grpc_port" default:"9090"`
	LogLevel string `envconfig:"log_level" default:"info"`

	DBDriver string `envconfig:"db_driver" default:"bolt"`
	DBDSN    string `envconfig:"db_dsn"`
	BoltPath string `envconfig:"bolt_path" default:"im.db"`

	AMQPURL      string `envconfig:"amqp_url"`
	AMQPExchange string `envconfig:"amqp_exchange" default:"im.events"`
	RedisAddr    string `envconfig:"redis_addr"`
	InstanceID   string `envconfig:"instance_id"`

	JWTSecret string `envconfig:"jwt_secret"`
	JWTIssuer string `envconfig:"jwt_issuer"`

	HeartbeatInterval time.Duration `envconfig:"heartbeat_interval" default:"60s"`
	HeartbeatTimeout  time.Duration `envconfig:"heartbeat_timeout" default:"120s"`
	SendBuffer        int           `envconfig:"send_buffer" default:"64"`
	SanitizeContent   bool          `envconfig:"sanitize_content" default:"false"`

	OTLPEndpoint string `envconfig:"otel_endpoint"`
}

// Load reads .env outside release mode, then the environment.
func Load() (*Config, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load("./.env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("couldn't load .env", "error", err)
		}
	}

	c := &Config{}
	if err := envconfig.Process("im", c); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return errors.New("IM_DB_DSN is required for the postgres driver")
		}
	case DriverBolt:
		if c.BoltPath == "" {
			return errors.New("IM_BOLT_PATH is required for the bolt driver")
		}
	default:
		return fmt.Errorf("unknown IM_DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("IM_JWT_SECRET is required")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return errors.New("heartbeat interval and timeout must be positive")
	}
	if c.HeartbeatTimeout < c.HeartbeatInterval {
		return errors.New("IM_HEARTBEAT_TIMEOUT must not be shorter than IM_HEARTBEAT_INTERVAL")
	}
	if c.SendBuffer <= 0 {
		return errors.New("IM_SEND_BUFFER must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) IsRelease() bool {
	return c.Env == "production" || c.Env == "release"
}
