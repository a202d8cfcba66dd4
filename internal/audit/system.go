package audit

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/arbiter/pkg/storage"
)

// Deps are the shared resources the sinks write through. Each is required
// only when the corresponding sink is enabled.
type Deps struct {
	DB      *sql.DB
	Storage storage.System
}

// New builds the sinks enabled in cfg and returns a writer fanning out to
// them. With no sinks configured, records are accepted and discarded.
func New(cfg *Config, deps Deps, logger *slog.Logger) (*Writer, error) {
	sinks := make(Fanout, 0, len(cfg.Sinks))
	var (
		closers []func()
		checks  []*NATS
	)

	for _, name := range cfg.Sinks {
		switch name {
		case SinkDatabase:
			if deps.DB == nil {
				return nil, fmt.Errorf("audit: database sink requires a database")
			}
			sinks = append(sinks, NewDatabaseSink(deps.DB))
		case SinkBlob:
			if deps.Storage == nil {
				return nil, fmt.Errorf("audit: blob sink requires storage")
			}
			sinks = append(sinks, NewBlobSink(deps.Storage))
		case SinkNATS:
			n, err := ConnectNATS(&cfg.NATS, logger)
			if err != nil {
				return nil, fmt.Errorf("audit: %w", err)
			}
			sinks = append(sinks, NewNATSSink(n.Conn(), cfg.NATS.SubjectPrefix))
			closers = append(closers, n.Close)
			checks = append(checks, n)
		case SinkLog:
			sinks = append(sinks, NewLogSink(logger))
		}
	}

	var sink Sink = sinks
	if len(sinks) == 0 {
		sink = Discard
	}

	w := NewWriter(sink, cfg, logger)
	for _, fn := range closers {
		w.AfterDrain(fn)
	}
	for _, n := range checks {
		w.DependsOn("nats", n)
	}
	return w, nil
}
