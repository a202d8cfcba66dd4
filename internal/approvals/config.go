package approvals

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/arbiter/workflow"
)

// Config holds the workflow policy: the transition table and engine limits.
type Config struct {
	Rules        []workflow.Rule `toml:"rules"`
	MaxBatchSize int             `toml:"max_batch_size"`
	RelatedLimit int             `toml:"related_limit"`
	SummaryTTL   string          `toml:"summary_ttl"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	MaxBatchSize string
	RelatedLimit string
	SummaryTTL   string
}

// SummaryTTLDuration returns SummaryTTL as a time.Duration. Zero disables caching.
func (c *Config) SummaryTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.SummaryTTL)
	return d
}

// Compile validates and indexes the transition table.
func (c *Config) Compile() (*workflow.Rules, error) {
	return workflow.NewRules(c.Rules)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. A non-empty overlay rule
// table replaces the base table wholesale.
func (c *Config) Merge(overlay *Config) {
	if len(overlay.Rules) > 0 {
		c.Rules = overlay.Rules
	}
	if overlay.MaxBatchSize != 0 {
		c.MaxBatchSize = overlay.MaxBatchSize
	}
	if overlay.RelatedLimit != 0 {
		c.RelatedLimit = overlay.RelatedLimit
	}
	if overlay.SummaryTTL != "" {
		c.SummaryTTL = overlay.SummaryTTL
	}
}

func (c *Config) loadDefaults() {
	if len(c.Rules) == 0 {
		c.Rules = workflow.DefaultRules()
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 100
	}
	if c.RelatedLimit == 0 {
		c.RelatedLimit = 5
	}
	if c.SummaryTTL == "" {
		c.SummaryTTL = "5s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.MaxBatchSize != "" {
		if v := os.Getenv(env.MaxBatchSize); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxBatchSize = n
			}
		}
	}
	if env.RelatedLimit != "" {
		if v := os.Getenv(env.RelatedLimit); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.RelatedLimit = n
			}
		}
	}
	if env.SummaryTTL != "" {
		if v := os.Getenv(env.SummaryTTL); v != "" {
			c.SummaryTTL = v
		}
	}
}

func (c *Config) validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.RelatedLimit < 1 {
		return fmt.Errorf("related_limit must be positive")
	}
	d, err := time.ParseDuration(c.SummaryTTL)
	if err != nil {
		return fmt.Errorf("invalid summary_ttl: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("summary_ttl must not be negative")
	}
	if _, err := c.Compile(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}
