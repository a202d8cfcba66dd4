// Package approvals is the fact approval workflow engine. It composes the
// pure rules in workflow with a facts.Store and an audit.Sink to serve the
// approval queue, single decisions, status changes, and bulk batches.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/pkg/pagination"
	"github.com/JaimeStill/arbiter/workflow"
)

// System defines the public contract of the approval engine. Every operation
// acts on behalf of caller; the engine trusts the caller it is handed.
type System interface {
	Handler() *Handler

	GetQueue(ctx context.Context, req QueueRequest, caller workflow.Caller) (*Queue, error)
	GetFactForReview(ctx context.Context, id uuid.UUID, caller workflow.Caller) (*Review, error)
	Decide(ctx context.Context, id uuid.UUID, d Decision, caller workflow.Caller) (*facts.Fact, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange, caller workflow.Caller) (*facts.Fact, error)
	BulkApply(ctx context.Context, req BulkRequest, caller workflow.Caller) (*BulkResult, error)

	Submit(ctx context.Context, req SubmitRequest, caller workflow.Caller) (*facts.Fact, error)
	Find(ctx context.Context, id uuid.UUID, caller workflow.Caller) (*facts.Fact, error)
	Deactivate(ctx context.Context, id uuid.UUID, caller workflow.Caller) error
	CheckAutoApproval(ctx context.Context, id uuid.UUID, caller workflow.Caller) (bool, error)
	Transitions() []workflow.Rule
}

// Option configures optional engine collaborators.
type Option func(*engine)

// WithAudit sets the audit sink. The default discards records.
func WithAudit(sink audit.Sink) Option {
	return func(e *engine) { e.audit = sink }
}

// WithMeter sets the meter used for approval metrics. The default is a no-op meter.
func WithMeter(m metric.Meter) Option {
	return func(e *engine) { e.metrics = newMetrics(m) }
}

// WithClock replaces time.Now for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *engine) { e.now = now }
}

// WithPagination sets the queue page size bounds.
func WithPagination(cfg pagination.Config) Option {
	return func(e *engine) { e.pagination = cfg }
}

type engine struct {
	store      facts.Store
	rules      *workflow.Rules
	audit      audit.Sink
	metrics    *metrics
	summaries  *gocache.Cache
	summaryMu  sync.Mutex
	summaryGen atomic.Uint64
	pagination pagination.Config
	cfg        *Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates the approval engine over store. cfg must be finalized.
func New(store facts.Store, cfg *Config, logger *slog.Logger, opts ...Option) (System, error) {
	rules, err := cfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("approvals: %w", err)
	}

	e := &engine{
		store:   store,
		rules:   rules,
		audit:   audit.Discard,
		metrics: newMetrics(metricnoop.NewMeterProvider().Meter(ScopeName)),
		pagination: pagination.Config{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		cfg:    cfg,
		logger: logger.With("system", "approvals"),
		now:    time.Now,
	}

	if ttl := cfg.SummaryTTLDuration(); ttl > 0 {
		e.summaries = gocache.New(ttl, 2*ttl)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *engine) Handler() *Handler {
	return NewHandler(e, e.logger)
}

func (e *engine) Transitions() []workflow.Rule {
	return e.rules.All()
}

// load returns an active fact visible to caller.
func (e *engine) load(ctx context.Context, id uuid.UUID, caller workflow.Caller) (*facts.Fact, error) {
	f, err := e.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, facts.ErrNotFound) {
			return nil, reasoned(ErrNotFound, reasonFactNotFound)
		}
		return nil, fmt.Errorf("find fact: %w", err)
	}
	if !f.IsActive {
		return nil, reasoned(ErrNotFound, reasonFactNotFound)
	}
	if !workflow.CanView(f.Marking(), caller.Clearance) {
		return nil, reasoned(ErrForbidden, reasonClearance)
	}
	return f, nil
}

// write applies u, translating a lost compare-and-set into NotFound or Conflict.
func (e *engine) write(ctx context.Context, u facts.Update) (*facts.Fact, error) {
	updated, err := e.store.Update(ctx, u)
	if err == nil {
		e.invalidateSummary()
		return updated, nil
	}
	if !errors.Is(err, facts.ErrStale) {
		return nil, fmt.Errorf("update fact: %w", err)
	}

	current, findErr := e.store.Find(ctx, u.ID)
	if findErr != nil || !current.IsActive {
		return nil, reasoned(ErrNotFound, reasonFactNotFound)
	}
	return nil, reasoned(ErrConflict, reasonConflict)
}

// record hands r to the audit sink. Failures are logged and never returned.
func (e *engine) record(ctx context.Context, r audit.Record) {
	if err := e.audit.Record(ctx, r); err != nil {
		e.logger.Warn("audit record failed",
			"action", r.Action,
			"entity_id", r.EntityID,
			"error", err,
		)
	}
}

// invalidateSummary advances the summary generation so that reads begun
// before the write cannot repopulate the cache.
func (e *engine) invalidateSummary() {
	if e.summaries == nil {
		return
	}
	e.summaryMu.Lock()
	defer e.summaryMu.Unlock()
	e.summaryGen.Add(1)
	e.summaries.Flush()
}

func (e *engine) fail(ctx context.Context, op string, err error) error {
	e.metrics.failure(ctx, op, err)
	return err
}
