package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subject returns the NATS subject a record is published on.
func Subject(prefix string, action Action) string {
	return prefix + "." + string(action)
}

// NewNATSSink publishes each record as JSON on <prefix>.<action>.
func NewNATSSink(pub Publisher, prefix string) Sink {
	return SinkFunc(func(ctx context.Context, r Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		subject := Subject(prefix, r.Action)
		if err := pub.Publish(subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	})
}

// NATS owns the publisher connection used by the NATS sink.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// ConnectNATS dials the configured server. Reconnects are handled by the
// client; publishes issued while disconnected are buffered by nats.go.
func ConnectNATS(cfg *NATSConfig, logger *slog.Logger) (*NATS, error) {
	logger = logger.With("system", "nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATS{conn: nc, logger: logger}, nil
}

// Conn returns the underlying connection.
func (n *NATS) Conn() *nats.Conn {
	return n.conn
}

// Ready reports whether the connection is currently established.
func (n *NATS) Ready() bool {
	return n.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Error("nats drain failed", "error", err)
		n.conn.Close()
		return
	}
	n.logger.Info("nats connection drained")
}
