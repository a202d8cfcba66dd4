// Package auth identifies the caller behind each request and places a
// workflow.Caller on the request context. Callers are identified either by
// an OpenID Connect bearer token or by headers set by a trusted proxy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/JaimeStill/arbiter/pkg/handlers"
	"github.com/JaimeStill/arbiter/pkg/lifecycle"
	"github.com/JaimeStill/arbiter/workflow"
)

// Trusted identity headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderRoles     = "X-User-Roles"
	HeaderClearance = "X-User-Clearance"
)

var (
	// ErrUnauthenticated indicates the request carried no usable identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidToken indicates the bearer token failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotReady indicates the identity provider has not been discovered yet.
	ErrNotReady = errors.New("identity provider not ready")
)

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller workflow.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored on ctx.
func CallerFrom(ctx context.Context) (workflow.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(workflow.Caller)
	return c, ok
}

// System authenticates requests.
type System interface {
	// Authenticate resolves the caller for r.
	Authenticate(r *http.Request) (workflow.Caller, error)
	// Middleware rejects unauthenticated requests with 401 and stores the caller on the context.
	Middleware() func(http.Handler) http.Handler
	// Start registers issuer discovery with the lifecycle coordinator in OIDC mode.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether requests can be authenticated.
	Ready() bool
}

// Option configures the authenticator.
type Option func(*authenticator)

// WithKeySet verifies tokens against keys instead of discovering the issuer.
func WithKeySet(keys oidc.KeySet) Option {
	return func(a *authenticator) {
		a.keys = keys
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *authenticator) {
		a.now = now
	}
}

type authenticator struct {
	cfg      *Config
	logger   *slog.Logger
	keys     oidc.KeySet
	now      func() time.Time
	verifier atomic.Pointer[oidc.IDTokenVerifier]
}

// New creates an authenticator for cfg.
func New(cfg *Config, logger *slog.Logger, opts ...Option) System {
	a := &authenticator{
		cfg:    cfg,
		logger: logger.With("system", "auth"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Mode == ModeOIDC && a.keys != nil {
		a.verifier.Store(oidc.NewVerifier(cfg.Issuer, a.keys, a.oidcConfig()))
	}
	return a
}

func (a *authenticator) Start(lc *lifecycle.Coordinator) error {
	if a.cfg.Mode == ModeHeader {
		a.logger.Warn("header authentication enabled; identity headers are trusted as sent",
			"headers", []string{HeaderUserID, HeaderRoles, HeaderClearance},
			"hint", "deploy behind a gateway that strips client-supplied identity headers, or set mode to oidc",
		)
		return nil
	}
	if a.cfg.Mode != ModeOIDC || a.verifier.Load() != nil {
		return nil
	}

	a.logger.Info("starting oidc discovery", "issuer", a.cfg.Issuer)

	lc.OnStartup(func() {
		var provider *oidc.Provider
		bo := backoff.NewExponentialBackOff()

		err := backoff.RetryNotify(func() error {
			p, err := oidc.NewProvider(lc.Context(), a.cfg.Issuer)
			if err != nil {
				return err
			}
			provider = p
			return nil
		}, backoff.WithContext(bo, lc.Context()), func(err error, wait time.Duration) {
			a.logger.Warn("oidc discovery retry", "error", err, "wait", wait)
		})
		if err != nil {
			a.logger.Error("oidc discovery failed", "error", err)
			return
		}

		a.verifier.Store(provider.Verifier(a.oidcConfig()))
		a.logger.Info("oidc provider ready", "issuer", a.cfg.Issuer)
	})

	return nil
}

func (a *authenticator) Ready() bool {
	return a.cfg.Mode != ModeOIDC || a.verifier.Load() != nil
}

func (a *authenticator) Authenticate(r *http.Request) (workflow.Caller, error) {
	if a.cfg.Mode == ModeOIDC {
		return a.fromToken(r)
	}
	return a.fromHeaders(r)
}

func (a *authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.Authenticate(r)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrNotReady) {
					status = http.StatusServiceUnavailable
				}
				handlers.RespondError(w, a.logger, status, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func (a *authenticator) fromHeaders(r *http.Request) (workflow.Caller, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return workflow.Caller{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderUserID)
	}

	return workflow.Caller{
		UserID:    id,
		Roles:     workflow.ParseRoles(r.Header.Get(HeaderRoles)),
		Clearance: a.clearance(r.Header.Get(HeaderClearance)),
	}, nil
}

func (a *authenticator) fromToken(r *http.Request) (workflow.Caller, error) {
	verifier := a.verifier.Load()
	if verifier == nil {
		return workflow.Caller{}, ErrNotReady
	}

	raw, ok := bearer(r)
	if !ok {
		return workflow.Caller{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	token, err := verifier.Verify(r.Context(), raw)
	if err != nil {
		return workflow.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return workflow.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return a.callerFromClaims(claims)
}

func (a *authenticator) callerFromClaims(claims map[string]any) (workflow.Caller, error) {
	id, _ := claims[a.cfg.UserClaim].(string)
	if id == "" {
		return workflow.Caller{}, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, a.cfg.UserClaim)
	}

	clearance, _ := claims[a.cfg.ClearanceClaim].(string)

	return workflow.Caller{
		UserID:    id,
		Roles:     rolesClaim(claims[a.cfg.RolesClaim]),
		Clearance: a.clearance(clearance),
	}, nil
}

// clearance falls back to the configured default when the value is absent.
// Unknown values are kept as-is; they rank as unclassified.
func (a *authenticator) clearance(v string) workflow.Classification {
	if strings.TrimSpace(v) == "" {
		return workflow.NormalizeClassification(a.cfg.DefaultClearance)
	}
	return workflow.NormalizeClassification(v)
}

func (a *authenticator) oidcConfig() *oidc.Config {
	return &oidc.Config{
		ClientID: a.cfg.Audience,
		Now:      a.now,
	}
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// rolesClaim accepts either a JSON array of strings or a comma separated string.
func rolesClaim(v any) workflow.Roles {
	switch roles := v.(type) {
	case string:
		return workflow.ParseRoles(roles)
	case []any:
		parts := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				parts = append(parts, s)
			}
		}
		return workflow.ParseRoles(strings.Join(parts, ","))
	}
	return nil
}
