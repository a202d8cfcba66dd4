package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/pkg/lifecycle"
)

var (
	// ErrQueueFull is returned by Writer.Record when the buffer is saturated.
	ErrQueueFull = errors.New("audit queue full")
	// ErrClosed is returned by Writer.Record after Close.
	ErrClosed = errors.New("audit writer closed")
)

// Writer is a Sink that buffers records in a bounded queue and delivers
// them to a downstream sink on a single background goroutine. Record never
// blocks; delivery failures are retried with exponential backoff and then
// logged and dropped. A Fanout downstream is retried per sink, so sinks that
// already accepted a record never see it twice.
type Writer struct {
	sink           Fanout
	queue          chan Record
	logger         *slog.Logger
	retryElapsed   time.Duration
	attemptTimeout time.Duration
	drainTimeout   time.Duration
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	after   []func()
	checks  map[string]lifecycle.ReadinessChecker

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewWriter creates a writer in front of sink. Call Start (or Run) to begin draining.
func NewWriter(sink Sink, cfg *Config, logger *slog.Logger) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	fanout, ok := sink.(Fanout)
	if !ok {
		fanout = Fanout{sink}
	}
	return &Writer{
		sink:           fanout,
		queue:          make(chan Record, cfg.QueueSize),
		logger:         logger.With("system", "audit"),
		retryElapsed:   cfg.RetryMaxElapsedDuration(),
		attemptTimeout: cfg.AttemptTimeoutDuration(),
		drainTimeout:   cfg.DrainTimeoutDuration(),
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		checks:         make(map[string]lifecycle.ReadinessChecker),
	}
}

// Record enqueues r without blocking. A zero ID or timestamp is filled in.
func (w *Writer) Record(_ context.Context, r Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.At.IsZero() {
		r.At = w.now().UTC()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- r:
		return nil
	default:
		w.dropped.Add(1)
		w.logger.Warn("audit record dropped", "action", r.Action, "entity_id", r.EntityID, "reason", "queue full")
		return ErrQueueFull
	}
}

// Start launches the drain goroutine, registers the readiness of every
// dependency added with DependsOn, and registers a shutdown hook that
// flushes the queue within the configured drain timeout.
func (w *Writer) Start(lc *lifecycle.Coordinator) error {
	w.logger.Info("starting audit writer", "queue_size", cap(w.queue))
	go w.Run()

	for name, c := range w.checks {
		lc.Check(name, c)
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
		defer cancel()

		if err := w.Close(ctx); err != nil {
			w.logger.Error("audit drain incomplete", "error", err, "pending", len(w.queue))
		} else {
			w.logger.Info("audit writer drained", "delivered", w.delivered.Load(), "dropped", w.dropped.Load())
		}

		for _, fn := range w.after {
			fn()
		}
	})

	return nil
}

// AfterDrain registers fn to run once the shutdown drain finishes. Sinks
// that own connections close them here so no record is published into a
// closed connection. Must be called before Start.
func (w *Writer) AfterDrain(fn func()) {
	w.after = append(w.after, fn)
}

// DependsOn records a connection a sink writes through. Start registers it
// as a readiness check under name. Must be called before Start.
func (w *Writer) DependsOn(name string, c lifecycle.ReadinessChecker) {
	w.checks[name] = c
}

// Run delivers queued records until the writer is closed and the queue is
// empty. It may be called once.
func (w *Writer) Run() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)

	for r := range w.queue {
		w.deliver(r)
	}
}

// Ready reports whether the drain goroutine is running.
func (w *Writer) Ready() bool {
	return w.started.Load()
}

// Close stops accepting records and waits for the queue to drain. If ctx
// expires first, in-flight retries are abandoned and ctx's error is returned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	if !w.started.Load() {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

// Stats returns the number of delivered and dropped records.
func (w *Writer) Stats() (delivered, dropped int64) {
	return w.delivered.Load(), w.dropped.Load()
}

func (w *Writer) deliver(r Record) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.retryElapsed

	delivered := make([]bool, len(w.sink))
	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(w.ctx, w.attemptTimeout)
		defer cancel()
		return w.sink.RecordPending(ctx, r, delivered)
	}, backoff.WithContext(bo, w.ctx), func(err error, wait time.Duration) {
		w.logger.Warn("audit delivery retry", "action", r.Action, "error", err, "wait", wait)
	})

	if err != nil {
		w.dropped.Add(1)
		w.logger.Error("audit record lost", "id", r.ID, "action", r.Action, "entity_id", r.EntityID, "error", err)
		return
	}
	w.delivered.Add(1)
}
