package audit

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Sink names accepted in Config.Sinks.
const (
	SinkDatabase = "database"
	SinkBlob     = "blob"
	SinkNATS     = "nats"
	SinkLog      = "log"
)

var sinkNames = []string{SinkDatabase, SinkBlob, SinkNATS, SinkLog}

// Config controls the asynchronous audit writer and its sinks.
type Config struct {
	Sinks           []string   `toml:"sinks"`
	QueueSize       int        `toml:"queue_size"`
	RetryMaxElapsed string     `toml:"retry_max_elapsed"`
	AttemptTimeout  string     `toml:"attempt_timeout"`
	DrainTimeout    string     `toml:"drain_timeout"`
	NATS            NATSConfig `toml:"nats"`
}

// NATSConfig holds the publisher connection for the NATS sink.
type NATSConfig struct {
	URL           string `toml:"url"`
	Token         string `toml:"token"`
	Name          string `toml:"name"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Sinks             string
	QueueSize         string
	RetryMaxElapsed   string
	AttemptTimeout    string
	DrainTimeout      string
	NATSURL           string
	NATSToken         string
	NATSSubjectPrefix string
}

// Uses reports whether the named sink is enabled.
func (c *Config) Uses(sink string) bool {
	return slices.Contains(c.Sinks, sink)
}

// RetryMaxElapsedDuration returns RetryMaxElapsed as a time.Duration.
func (c *Config) RetryMaxElapsedDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryMaxElapsed)
	return d
}

// AttemptTimeoutDuration returns AttemptTimeout as a time.Duration.
func (c *Config) AttemptTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.AttemptTimeout)
	return d
}

// DrainTimeoutDuration returns DrainTimeout as a time.Duration.
func (c *Config) DrainTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.DrainTimeout)
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

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Sinks != nil {
		c.Sinks = overlay.Sinks
	}
	if overlay.QueueSize != 0 {
		c.QueueSize = overlay.QueueSize
	}
	if overlay.RetryMaxElapsed != "" {
		c.RetryMaxElapsed = overlay.RetryMaxElapsed
	}
	if overlay.AttemptTimeout != "" {
		c.AttemptTimeout = overlay.AttemptTimeout
	}
	if overlay.DrainTimeout != "" {
		c.DrainTimeout = overlay.DrainTimeout
	}
	if overlay.NATS.URL != "" {
		c.NATS.URL = overlay.NATS.URL
	}
	if overlay.NATS.Token != "" {
		c.NATS.Token = overlay.NATS.Token
	}
	if overlay.NATS.Name != "" {
		c.NATS.Name = overlay.NATS.Name
	}
	if overlay.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = overlay.NATS.SubjectPrefix
	}
}

func (c *Config) loadDefaults() {
	if c.Sinks == nil {
		c.Sinks = []string{SinkDatabase}
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.RetryMaxElapsed == "" {
		c.RetryMaxElapsed = "30s"
	}
	if c.AttemptTimeout == "" {
		c.AttemptTimeout = "5s"
	}
	if c.DrainTimeout == "" {
		c.DrainTimeout = "10s"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "arbiter"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "arbiter.audit"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Sinks != "" {
		if v, ok := os.LookupEnv(env.Sinks); ok {
			c.Sinks = splitSinks(v)
		}
	}
	if env.QueueSize != "" {
		if v := os.Getenv(env.QueueSize); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.QueueSize = n
			}
		}
	}
	if env.RetryMaxElapsed != "" {
		if v := os.Getenv(env.RetryMaxElapsed); v != "" {
			c.RetryMaxElapsed = v
		}
	}
	if env.AttemptTimeout != "" {
		if v := os.Getenv(env.AttemptTimeout); v != "" {
			c.AttemptTimeout = v
		}
	}
	if env.DrainTimeout != "" {
		if v := os.Getenv(env.DrainTimeout); v != "" {
			c.DrainTimeout = v
		}
	}
	if env.NATSURL != "" {
		if v := os.Getenv(env.NATSURL); v != "" {
			c.NATS.URL = v
		}
	}
	if env.NATSToken != "" {
		if v := os.Getenv(env.NATSToken); v != "" {
			c.NATS.Token = v
		}
	}
	if env.NATSSubjectPrefix != "" {
		if v := os.Getenv(env.NATSSubjectPrefix); v != "" {
			c.NATS.SubjectPrefix = v
		}
	}
}

func (c *Config) validate() error {
	for _, s := range c.Sinks {
		if !slices.Contains(sinkNames, s) {
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	for name, v := range map[string]string{
		"retry_max_elapsed": c.RetryMaxElapsed,
		"attempt_timeout":   c.AttemptTimeout,
		"drain_timeout":     c.DrainTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Uses(SinkNATS) && c.NATS.URL == "" {
		return fmt.Errorf("nats.url required when the nats sink is enabled")
	}
	return nil
}

func splitSinks(v string) []string {
	out := make([]string, 0)
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
