// Package database provides PostgreSQL connection management with lifecycle coordination.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/arbiter/pkg/lifecycle"
)

// System manages database connections and lifecycle coordination.
type System interface {
	// Connection returns the underlying database connection pool.
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup ping has succeeded.
	Ready() bool
	// Check returns ErrNotReady until the startup ping has succeeded.
	Check(ctx context.Context) error
}

type database struct {
	conn         *sql.DB
	logger       *slog.Logger
	connTimeout  time.Duration
	retryElapsed time.Duration
	ready        atomic.Bool
}

// New creates a database system with the given configuration.
// It calls sql.Open to validate the DSN and configure pool parameters,
// but does not establish a connection until Start is called.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	return &database{
		conn:         db,
		logger:       logger.With("system", "database"),
		connTimeout:  cfg.ConnTimeoutDuration(),
		retryElapsed: cfg.ConnRetryDuration(),
	}, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Ready() bool {
	return d.ready.Load()
}

func (d *database) Check(ctx context.Context) error {
	if !d.ready.Load() {
		return ErrNotReady
	}
	return d.conn.PingContext(ctx)
}

func (d *database) Start(lc *lifecycle.Coordinator) error {
	d.logger.Info("starting database connection")

	lc.OnStartup(func() {
		if err := d.ping(lc.Context()); err != nil {
			d.logger.Error("database ping failed", "error", err)
			return
		}

		d.ready.Store(true)
		d.logger.Info("database connection established")
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		d.ready.Store(false)
		d.logger.Info("closing database connection")

		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}

		d.logger.Info("database connection closed")
	})

	return nil
}

func (d *database) ping(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.retryElapsed

	return backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, d.connTimeout)
		defer cancel()
		return d.conn.PingContext(pingCtx)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		d.logger.Warn("database ping retry", "error", err, "wait", wait)
	})
}
