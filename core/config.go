package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTimestampTolerance = 5 * time.Minute
	DefaultMaxBodyBytes       = int64(1 << 20)
	DefaultMaxAttempts        = 4
	DefaultInitialBackoff     = time.Second
	DefaultMaxBackoff         = 30 * time.Second
)

type WebhookConfig struct {
	SigningSecret string        `koanf:"signing_secret" mapstructure:"signing_secret"`
	Tolerance     time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	MaxBodyBytes  int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	// BurstMode is none, coalesce or debounce.
	BurstMode     string        `koanf:"burst_mode" mapstructure:"burst_mode"`
	BurstWindow   time.Duration `koanf:"burst_window" mapstructure:"burst_window"`
}

type RunsConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type HTTPConfig struct {
	Addr        string `koanf:"addr" mapstructure:"addr"`
	ServePath   string `koanf:"serve_path" mapstructure:"serve_path"`
	WebhookPath string `koanf:"webhook_path" mapstructure:"webhook_path"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type BrokerConfig struct {
	URL      string `koanf:"url" mapstructure:"url"`
	Exchange string `koanf:"exchange" mapstructure:"exchange"`
}

type LogConfig struct {
	Level string `koanf:"level" mapstructure:"level"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled" mapstructure:"enabled"`
}

type Config struct {
	AppID     string          `koanf:"app_id" mapstructure:"app_id"`
	Webhook   WebhookConfig   `koanf:"webhook" mapstructure:"webhook"`
	Runs      RunsConfig      `koanf:"runs" mapstructure:"runs"`
	HTTP      HTTPConfig      `koanf:"http" mapstructure:"http"`
	Database  DatabaseConfig  `koanf:"database" mapstructure:"database"`
	Broker    BrokerConfig    `koanf:"broker" mapstructure:"broker"`
	Telemetry TelemetryConfig `koanf:"telemetry" mapstructure:"telemetry"`
	Log       LogConfig       `koanf:"log" mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		AppID: "userhooks",
		Webhook: WebhookConfig{
			Tolerance:    DefaultTimestampTolerance,
			MaxBodyBytes: DefaultMaxBodyBytes,
			BurstMode:    "none",
			BurstWindow:  2 * time.Second,
		},
		Runs: RunsConfig{
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			ServePath:   "/api/durable",
			WebhookPath: "/api/webhooks/identity",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:userhooks.db?cache=shared&_foreign_keys=on",
		},
		Broker: BrokerConfig{
			Exchange: "events",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("core: app_id is required")
	}
	if c.Webhook.Tolerance <= 0 {
		return fmt.Errorf("core: webhook.tolerance must be positive")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must be positive")
	}
	if c.Runs.MaxAttempts <= 0 {
		return fmt.Errorf("core: runs.max_attempts must be positive")
	}
	if c.Runs.InitialBackoff <= 0 || c.Runs.MaxBackoff < c.Runs.InitialBackoff {
		return fmt.Errorf("core: runs backoff bounds are invalid")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: unsupported database.driver %q", c.Database.Driver)
	}
	if !strings.HasPrefix(c.HTTP.ServePath, "/") || !strings.HasPrefix(c.HTTP.WebhookPath, "/") {
		return fmt.Errorf("core: http paths must be absolute")
	}
	return nil
}
