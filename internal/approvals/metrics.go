package approvals

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JaimeStill/arbiter/workflow"
)

// ScopeName is the instrumentation scope for approval metrics.
const ScopeName = "github.com/JaimeStill/arbiter/approvals"

type metrics struct {
	transitions metric.Int64Counter
	failures    metric.Int64Counter
	batchSize   metric.Int64Histogram
	queueDur    metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	transitions, _ := m.Int64Counter("arbiter.approvals.transitions",
		metric.WithDescription("Fact status transitions applied"),
	)
	failures, _ := m.Int64Counter("arbiter.approvals.failures",
		metric.WithDescription("Rejected approval operations by error category"),
	)
	batchSize, _ := m.Int64Histogram("arbiter.approvals.bulk.size",
		metric.WithDescription("Number of facts per bulk request"),
	)
	queueDur, _ := m.Float64Histogram("arbiter.approvals.queue.duration",
		metric.WithDescription("Approval queue query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &metrics{
		transitions: transitions,
		failures:    failures,
		batchSize:   batchSize,
		queueDur:    queueDur,
	}
}

func (m *metrics) transition(ctx context.Context, from, to workflow.Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("arbiter.status.from", string(from)),
		attribute.String("arbiter.status.to", string(to)),
	))
}

func (m *metrics) failure(ctx context.Context, op string, err error) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("arbiter.operation", op),
		attribute.String("arbiter.error", category(err)),
	))
}

func (m *metrics) bulk(ctx context.Context, action workflow.Action, n int) {
	m.batchSize.Record(ctx, int64(n), metric.WithAttributes(
		attribute.String("arbiter.action", string(action)),
	))
}

func (m *metrics) queue(ctx context.Context, start time.Time) {
	m.queueDur.Record(ctx, float64(time.Since(start).Milliseconds()))
}

func category(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}
