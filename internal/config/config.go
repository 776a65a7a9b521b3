// Package config provides IPC host and client configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds ipc-host and ipc-call configuration.
type Config struct {
	// IPC transport
	SecretKey      string        `envconfig:"IPC_SECRET_KEY" default:"public-ipc-key"`
	Host           string        `envconfig:"IPC_HOST" default:"localhost"`
	Port           int           `envconfig:"IPC_PORT" default:"8080"`
	Path           string        `envconfig:"IPC_PATH" default:"/ipc"`
	URL            string        `envconfig:"IPC_URL"`
	HandlerTimeout time.Duration `envconfig:"IPC_HANDLER_TIMEOUT" default:"30s"`
	RequestTimeout time.Duration `envconfig:"IPC_REQUEST_TIMEOUT" default:"30s"`
	RedactErrors   bool          `envconfig:"IPC_REDACT_ERRORS" default:"false"`

	// COMMS: optional NATS transport and event fan-out. Empty COMMSURL disables it.
	COMMSURL           string `envconfig:"COMMS_URL"`
	COMMSName          string `envconfig:"SERVICE_NAME" default:"ipc-host"`
	COMMSSubject       string `envconfig:"IPC_COMMS_SUBJECT" default:"ipc.rpc"`
	EventSubjectPrefix string `envconfig:"IPC_EVENT_SUBJECT_PREFIX" default:"ipc.events"`

	// Database: optional event log. Empty DatabaseURL disables it.
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	EnsureDatabase bool   `envconfig:"DATABASE_ENSURE" default:"false"`
	RunMigrations  bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Operational endpoints
	MetricsPath        string        `envconfig:"METRICS_PATH" default:"/metrics"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateForServe checks required config when running the IPC host.
func (c *Config) ValidateForServe() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%s - IPC_SECRET_KEY must not be empty", logPrefix)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s - IPC_PORT %d out of range", logPrefix, c.Port)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("%s - IPC_HANDLER_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	if c.MetricsPath != "" && c.MetricsPath == c.Path {
		return fmt.Errorf("%s - METRICS_PATH and IPC_PATH must differ", logPrefix)
	}
	return nil
}

// ValidateForClient checks required config when calling a remote host.
func (c *Config) ValidateForClient() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%s - IPC_SECRET_KEY must not be empty", logPrefix)
	}
	if c.URL == "" && c.Host == "" && c.COMMSURL == "" {
		return fmt.Errorf("%s - one of IPC_URL, IPC_HOST or COMMS_URL is required", logPrefix)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s - IPC_REQUEST_TIMEOUT must not be negative", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, events).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// HostPort returns the address the IPC host serves on, as host:port.
func (c *Config) HostPort() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
