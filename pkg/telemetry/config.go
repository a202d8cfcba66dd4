package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls OpenTelemetry metric export. Telemetry is disabled by default.
type Config struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Interval    string `toml:"interval"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled     string
	ServiceName string
	Interval    string
}

// IntervalDuration returns Interval as a time.Duration.
func (c *Config) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites fields from overlay. Enabled always applies.
func (c *Config) Merge(overlay *Config) {
	c.Enabled = overlay.Enabled
	if overlay.ServiceName != "" {
		c.ServiceName = overlay.ServiceName
	}
	if overlay.Interval != "" {
		c.Interval = overlay.Interval
	}
}

func (c *Config) loadDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "arbiter"
	}
	if c.Interval == "" {
		c.Interval = "30s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				c.Enabled = enabled
			}
		}
	}
	if env.ServiceName != "" {
		if v := os.Getenv(env.ServiceName); v != "" {
			c.ServiceName = v
		}
	}
	if env.Interval != "" {
		if v := os.Getenv(env.Interval); v != "" {
			c.Interval = v
		}
	}
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}
