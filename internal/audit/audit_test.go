package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/pkg/lifecycle"
	"github.com/JaimeStill/arbiter/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(t *testing.T, mutate func(*audit.Config)) *audit.Config {
	t.Helper()
	cfg := &audit.Config{Sinks: []string{}}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Finalize(nil))
	return cfg
}

type recorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recorder) Record(_ context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) all() []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Record(nil), r.records...)
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	failing := audit.SinkFunc(func(context.Context, audit.Record) error {
		return errors.New("boom")
	})

	err := audit.Fanout{a, failing, b}.Record(context.Background(), audit.Record{Action: audit.ActionApprove})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 1: boom")
	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}

func TestFanoutEmpty(t *testing.T) {
	assert.NoError(t, audit.Fanout{}.Record(context.Background(), audit.Record{}))
}

func TestWriterDeliversInOrder(t *testing.T) {
	sink := &recorder{}
	w := audit.NewWriter(sink, testConfig(t, nil), discardLogger())
	go w.Run()

	for _, action := range []audit.Action{audit.ActionSubmit, audit.ActionApprove, audit.ActionDeactivate} {
		require.NoError(t, w.Record(context.Background(), audit.Record{Action: action}))
	}

	require.NoError(t, w.Close(context.Background()))

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, audit.ActionSubmit, got[0].Action)
	assert.Equal(t, audit.ActionApprove, got[1].Action)
	assert.Equal(t, audit.ActionDeactivate, got[2].Action)
	for _, r := range got {
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.False(t, r.At.IsZero())
	}

	delivered, dropped := w.Stats()
	assert.Equal(t, int64(3), delivered)
	assert.Zero(t, dropped)
}

func TestWriterQueueFull(t *testing.T) {
	cfg := testConfig(t, func(c *audit.Config) { c.QueueSize = 1 })
	w := audit.NewWriter(&recorder{}, cfg, discardLogger())

	require.NoError(t, w.Record(context.Background(), audit.Record{}))
	assert.ErrorIs(t, w.Record(context.Background(), audit.Record{}), audit.ErrQueueFull)

	_, dropped := w.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w := audit.NewWriter(&recorder{}, testConfig(t, nil), discardLogger())
	require.NoError(t, w.Close(context.Background()))

	assert.ErrorIs(t, w.Record(context.Background(), audit.Record{}), audit.ErrClosed)
}

func TestWriterRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	sink := audit.SinkFunc(func(context.Context, audit.Record) error {
		if calls.Add(1) < 3 {
			return errors.New("unavailable")
		}
		return nil
	})

	cfg := testConfig(t, func(c *audit.Config) { c.RetryMaxElapsed = "10s" })
	w := audit.NewWriter(sink, cfg, discardLogger())
	go w.Run()

	require.NoError(t, w.Record(context.Background(), audit.Record{Action: audit.ActionReject}))
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	delivered, dropped := w.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Zero(t, dropped)
}

func TestWriterRetriesOnlyFailedSinks(t *testing.T) {
	steady := &recorder{}
	var calls atomic.Int32
	flaky := audit.SinkFunc(func(context.Context, audit.Record) error {
		if calls.Add(1) < 3 {
			return errors.New("unavailable")
		}
		return nil
	})

	cfg := testConfig(t, func(c *audit.Config) { c.RetryMaxElapsed = "10s" })
	w := audit.NewWriter(audit.Fanout{steady, flaky}, cfg, discardLogger())
	go w.Run()

	require.NoError(t, w.Record(context.Background(), audit.Record{Action: audit.ActionApprove}))
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, steady.all(), 1)
	delivered, dropped := w.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Zero(t, dropped)
}

func TestFanoutRecordPendingSkipsDelivered(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	fanout := audit.Fanout{a, b}
	delivered := []bool{true, false}

	require.NoError(t, fanout.RecordPending(context.Background(), audit.Record{}, delivered))

	assert.Empty(t, a.all())
	assert.Len(t, b.all(), 1)
	assert.Equal(t, []bool{true, true}, delivered)
}

func TestWriterDropsAfterRetryBudget(t *testing.T) {
	sink := audit.SinkFunc(func(context.Context, audit.Record) error {
		return errors.New("down")
	})

	cfg := testConfig(t, func(c *audit.Config) { c.RetryMaxElapsed = "1ms" })
	w := audit.NewWriter(sink, cfg, discardLogger())
	go w.Run()

	require.NoError(t, w.Record(context.Background(), audit.Record{}))
	require.NoError(t, w.Close(context.Background()))

	delivered, dropped := w.Stats()
	assert.Zero(t, delivered)
	assert.Equal(t, int64(1), dropped)
}

func TestWriterCloseDeadlineAbandonsRetries(t *testing.T) {
	sink := audit.SinkFunc(func(context.Context, audit.Record) error {
		return errors.New("down")
	})

	cfg := testConfig(t, func(c *audit.Config) { c.RetryMaxElapsed = "1h" })
	w := audit.NewWriter(sink, cfg, discardLogger())
	go w.Run()

	require.NoError(t, w.Record(context.Background(), audit.Record{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
}

func TestWriterShutdownDrainsThenCloses(t *testing.T) {
	sink := &recorder{}
	w := audit.NewWriter(sink, testConfig(t, nil), discardLogger())

	var closedAfter atomic.Int32
	w.AfterDrain(func() { closedAfter.Store(int32(len(sink.all()))) })

	lc := lifecycle.New()
	require.NoError(t, w.Start(lc))
	assert.Eventually(t, w.Ready, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Record(context.Background(), audit.Record{Action: audit.ActionBulkApprove}))
	require.NoError(t, lc.Shutdown(5*time.Second))

	assert.Len(t, sink.all(), 1)
	assert.Equal(t, int32(1), closedAfter.Load())
}

type publisher struct {
	subject string
	data    []byte
	err     error
}

func (p *publisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.data = data
	return p.err
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	pub := &publisher{}
	sink := audit.NewNATSSink(pub, "arbiter.audit")

	id := uuid.New()
	rec := audit.Record{
		ID:         id,
		UserID:     "u-1",
		Action:     audit.ActionApprove,
		EntityType: audit.EntityFact,
		EntityID:   "f-1",
		NewValues:  map[string]any{"status": "approved"},
	}
	require.NoError(t, sink.Record(context.Background(), rec))

	assert.Equal(t, "arbiter.audit.fact_approved", pub.subject)

	var got audit.Record
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "approved", got.NewValues["status"])
}

func TestNATSSinkWrapsPublishError(t *testing.T) {
	pub := &publisher{err: errors.New("no responders")}
	err := audit.NewNATSSink(pub, "x").Record(context.Background(), audit.Record{Action: audit.ActionReject})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish x.fact_rejected")
}

type memoryBlobs struct {
	prefix  string
	objects map[string][]byte
	uploads int
}

func (m *memoryBlobs) Start(*lifecycle.Coordinator) error { return nil }
func (m *memoryBlobs) Ready() bool                        { return true }

func (m *memoryBlobs) Key(parts ...string) string {
	return path.Join(append([]string{m.prefix}, parts...)...)
}

func (m *memoryBlobs) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.uploads++
	m.objects[key] = data
	return nil
}

func (m *memoryBlobs) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func TestBlobSinkArchivesOnce(t *testing.T) {
	blobs := &memoryBlobs{prefix: "records", objects: make(map[string][]byte)}
	sink := audit.NewBlobSink(blobs)

	rec := audit.Record{
		ID:     uuid.New(),
		Action: audit.ActionDeactivate,
		At:     time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC),
	}

	require.NoError(t, sink.Record(context.Background(), rec))
	require.NoError(t, sink.Record(context.Background(), rec))

	key := audit.BlobKey(blobs, rec)
	assert.Equal(t, "records/2026/03/04/"+rec.ID.String()+".json", key)
	assert.Equal(t, 1, blobs.uploads)
	assert.True(t, strings.Contains(string(blobs.objects[key]), `"fact_deactivated"`))
}

func TestNewWithLogSink(t *testing.T) {
	cfg := testConfig(t, func(c *audit.Config) { c.Sinks = []string{audit.SinkLog} })

	w, err := audit.New(cfg, audit.Deps{}, discardLogger())
	require.NoError(t, err)
	go w.Run()

	require.NoError(t, w.Record(context.Background(), audit.Record{Action: audit.ActionSubmit}))
	require.NoError(t, w.Close(context.Background()))

	delivered, _ := w.Stats()
	assert.Equal(t, int64(1), delivered)
}

func TestNewRegistersNATSReadiness(t *testing.T) {
	cfg := testConfig(t, func(c *audit.Config) {
		c.Sinks = []string{audit.SinkNATS}
		c.NATS.URL = "nats://127.0.0.1:1"
	})

	w, err := audit.New(cfg, audit.Deps{}, discardLogger())
	require.NoError(t, err)

	lc := lifecycle.New()
	require.NoError(t, w.Start(lc))
	t.Cleanup(func() { lc.Shutdown(5 * time.Second) })

	assert.Contains(t, lc.Pending(), "nats")
}

func TestNewRequiresDeps(t *testing.T) {
	tests := []struct {
		sink string
		want string
	}{
		{audit.SinkDatabase, "requires a database"},
		{audit.SinkBlob, "requires storage"},
	}

	for _, tt := range tests {
		t.Run(tt.sink, func(t *testing.T) {
			cfg := testConfig(t, func(c *audit.Config) { c.Sinks = []string{tt.sink} })
			_, err := audit.New(cfg, audit.Deps{}, discardLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
