// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, telemetry) that
// domain systems require.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/config"
	"github.com/JaimeStill/arbiter/pkg/database"
	"github.com/JaimeStill/arbiter/pkg/lifecycle"
	"github.com/JaimeStill/arbiter/pkg/storage"
	"github.com/JaimeStill/arbiter/pkg/telemetry"
)

// Infrastructure holds the core systems required by all domain modules.
// Storage is nil unless the blob audit sink is enabled.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Telemetry telemetry.System
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	var store storage.System
	if cfg.Audit.Uses(audit.SinkBlob) {
		store, err = storage.New(&cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
	}

	tel, err := telemetry.New(&cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Telemetry: tel,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// Each system with a readiness signal is also registered as a readiness check.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	i.Lifecycle.Check("database", i.Database)

	if i.Storage != nil {
		if err := i.Storage.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("storage start failed: %w", err)
		}
		i.Lifecycle.Check("storage", i.Storage)
	}

	if err := i.Telemetry.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("telemetry start failed: %w", err)
	}
	return nil
}
