package auth

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/JaimeStill/arbiter/workflow"
)

// Authentication modes.
const (
	// ModeOIDC verifies bearer ID tokens against an OpenID Connect issuer.
	ModeOIDC = "oidc"
	// ModeHeader trusts identity headers set by an authenticating proxy.
	ModeHeader = "header"
)

// Config selects how callers are identified.
type Config struct {
	Mode             string `toml:"mode"`
	Issuer           string `toml:"issuer"`
	Audience         string `toml:"audience"`
	UserClaim        string `toml:"user_claim"`
	RolesClaim       string `toml:"roles_claim"`
	ClearanceClaim   string `toml:"clearance_claim"`
	DefaultClearance string `toml:"default_clearance"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Mode             string
	Issuer           string
	Audience         string
	DefaultClearance string
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
	if overlay.Mode != "" {
		c.Mode = overlay.Mode
	}
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.Audience != "" {
		c.Audience = overlay.Audience
	}
	if overlay.UserClaim != "" {
		c.UserClaim = overlay.UserClaim
	}
	if overlay.RolesClaim != "" {
		c.RolesClaim = overlay.RolesClaim
	}
	if overlay.ClearanceClaim != "" {
		c.ClearanceClaim = overlay.ClearanceClaim
	}
	if overlay.DefaultClearance != "" {
		c.DefaultClearance = overlay.DefaultClearance
	}
}

func (c *Config) loadDefaults() {
	if c.Mode == "" {
		c.Mode = ModeHeader
	}
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	if c.ClearanceClaim == "" {
		c.ClearanceClaim = "clearance"
	}
	if c.DefaultClearance == "" {
		c.DefaultClearance = string(workflow.Unclassified)
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Mode != "" {
		if v := os.Getenv(env.Mode); v != "" {
			c.Mode = strings.ToLower(v)
		}
	}
	if env.Issuer != "" {
		if v := os.Getenv(env.Issuer); v != "" {
			c.Issuer = v
		}
	}
	if env.Audience != "" {
		if v := os.Getenv(env.Audience); v != "" {
			c.Audience = v
		}
	}
	if env.DefaultClearance != "" {
		if v := os.Getenv(env.DefaultClearance); v != "" {
			c.DefaultClearance = v
		}
	}
}

func (c *Config) validate() error {
	if _, err := workflow.ParseClassification(c.DefaultClearance); err != nil {
		return fmt.Errorf("invalid default_clearance %q", c.DefaultClearance)
	}

	switch c.Mode {
	case ModeHeader:
		return nil
	case ModeOIDC:
		u, err := url.Parse(c.Issuer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid issuer: %q", c.Issuer)
		}
		if c.Audience == "" {
			return fmt.Errorf("audience required for oidc mode")
		}
		return nil
	}
	return fmt.Errorf("unknown mode %q", c.Mode)
}
