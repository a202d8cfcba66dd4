// Package config loads the Arbiter service configuration from TOML files and
// ARBITER_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/arbiter/internal/approvals"
	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/auth"
	"github.com/JaimeStill/arbiter/pkg/database"
	"github.com/JaimeStill/arbiter/pkg/storage"
	"github.com/JaimeStill/arbiter/pkg/telemetry"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvArbiterEnv             = "ARBITER_ENV"
	EnvArbiterShutdownTimeout = "ARBITER_SHUTDOWN_TIMEOUT"
	EnvArbiterVersion         = "ARBITER_VERSION"
	EnvArbiterLogLevel        = "ARBITER_LOG_LEVEL"
)

var databaseEnv = &database.Env{
	Host:            "ARBITER_DB_HOST",
	Port:            "ARBITER_DB_PORT",
	Name:            "ARBITER_DB_NAME",
	User:            "ARBITER_DB_USER",
	Password:        "ARBITER_DB_PASSWORD",
	SSLMode:         "ARBITER_DB_SSL_MODE",
	MaxOpenConns:    "ARBITER_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "ARBITER_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "ARBITER_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "ARBITER_DB_CONN_TIMEOUT",
	ConnRetry:       "ARBITER_DB_CONN_RETRY",
}

var storageEnv = &storage.Env{
	ContainerName:    "ARBITER_STORAGE_CONTAINER_NAME",
	ConnectionString: "ARBITER_STORAGE_CONNECTION_STRING",
	ServiceURL:       "ARBITER_STORAGE_SERVICE_URL",
	Prefix:           "ARBITER_STORAGE_PREFIX",
}

var authEnv = &auth.Env{
	Mode:             "ARBITER_AUTH_MODE",
	Issuer:           "ARBITER_AUTH_ISSUER",
	Audience:         "ARBITER_AUTH_AUDIENCE",
	DefaultClearance: "ARBITER_AUTH_DEFAULT_CLEARANCE",
}

var auditEnv = &audit.Env{
	Sinks:             "ARBITER_AUDIT_SINKS",
	QueueSize:         "ARBITER_AUDIT_QUEUE_SIZE",
	RetryMaxElapsed:   "ARBITER_AUDIT_RETRY_MAX_ELAPSED",
	AttemptTimeout:    "ARBITER_AUDIT_ATTEMPT_TIMEOUT",
	DrainTimeout:      "ARBITER_AUDIT_DRAIN_TIMEOUT",
	NATSURL:           "ARBITER_NATS_URL",
	NATSToken:         "ARBITER_NATS_TOKEN",
	NATSSubjectPrefix: "ARBITER_NATS_SUBJECT_PREFIX",
}

var workflowEnv = &approvals.Env{
	MaxBatchSize: "ARBITER_WORKFLOW_MAX_BATCH_SIZE",
	RelatedLimit: "ARBITER_WORKFLOW_RELATED_LIMIT",
	SummaryTTL:   "ARBITER_WORKFLOW_SUMMARY_TTL",
}

var telemetryEnv = &telemetry.Env{
	Enabled:     "ARBITER_TELEMETRY_ENABLED",
	ServiceName: "ARBITER_TELEMETRY_SERVICE_NAME",
	Interval:    "ARBITER_TELEMETRY_INTERVAL",
}

// Config is the root configuration for the Arbiter service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	Database        database.Config  `toml:"database"`
	Storage         storage.Config   `toml:"storage"`
	API             APIConfig        `toml:"api"`
	Auth            auth.Config      `toml:"auth"`
	Audit           audit.Config     `toml:"audit"`
	Workflow        approvals.Config `toml:"workflow"`
	Telemetry       telemetry.Config `toml:"telemetry"`
	LogLevel        string           `toml:"log_level"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
}

// Env returns the ARBITER_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvArbiterEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel)))
	return level
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Auth.Merge(&overlay.Auth)
	c.Audit.Merge(&overlay.Audit)
	c.Workflow.Merge(&overlay.Workflow)
	c.Telemetry.Merge(&overlay.Telemetry)
}

// Finalize applies defaults, environment overrides, and validation to every
// sub-config. Storage is only finalized when the blob audit sink is enabled.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Audit.Finalize(auditEnv); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if c.Audit.Uses(audit.SinkBlob) {
		if err := c.Storage.Finalize(storageEnv); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	if err := c.Workflow.Finalize(workflowEnv); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Telemetry.Finalize(telemetryEnv); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvArbiterLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvArbiterShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvArbiterVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvArbiterEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
