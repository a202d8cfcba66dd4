package api

import (
	"fmt"

	"github.com/JaimeStill/arbiter/internal/approvals"
	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/auth"
	"github.com/JaimeStill/arbiter/internal/config"
	"github.com/JaimeStill/arbiter/internal/facts"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Facts     facts.Store
	Audit     *audit.Writer
	Auth      auth.System
	Approvals approvals.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	store := facts.New(runtime.Database.Connection(), runtime.Logger)

	writer, err := audit.New(
		&cfg.Audit,
		audit.Deps{
			DB:      runtime.Database.Connection(),
			Storage: runtime.Storage,
		},
		runtime.Logger,
	)
	if err != nil {
		return nil, err
	}

	authSystem := auth.New(&cfg.Auth, runtime.Logger)

	approvalsSystem, err := approvals.New(
		store,
		&cfg.Workflow,
		runtime.Logger,
		approvals.WithAudit(writer),
		approvals.WithMeter(runtime.Telemetry.Meter(approvals.ScopeName)),
		approvals.WithPagination(runtime.Pagination),
	)
	if err != nil {
		return nil, err
	}

	return &Domain{
		Facts:     store,
		Audit:     writer,
		Auth:      authSystem,
		Approvals: approvalsSystem,
	}, nil
}

// Start registers the domain systems that own background work with the
// lifecycle coordinator.
func (d *Domain) Start(runtime *Runtime) error {
	if err := d.Audit.Start(runtime.Lifecycle); err != nil {
		return fmt.Errorf("audit start failed: %w", err)
	}
	runtime.Lifecycle.Check("audit", d.Audit)

	if err := d.Auth.Start(runtime.Lifecycle); err != nil {
		return fmt.Errorf("auth start failed: %w", err)
	}
	runtime.Lifecycle.Check("auth", d.Auth)

	return nil
}
