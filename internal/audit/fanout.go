package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fanout delivers each record to every sink concurrently. A failing sink
// does not stop the others; all failures are joined into the returned error.
type Fanout []Sink

// Record implements Sink.
func (f Fanout) Record(ctx context.Context, r Record) error {
	return f.RecordPending(ctx, r, make([]bool, len(f)))
}

// RecordPending delivers r to every sink whose entry in delivered is false
// and marks the ones that succeed. Retrying with the same slice reaches only
// the sinks that have not yet accepted r.
func (f Fanout) RecordPending(ctx context.Context, r Record, delivered []bool) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)

	for i, sink := range f {
		if delivered[i] {
			continue
		}
		g.Go(func() error {
			err := sink.Record(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
				return nil
			}
			delivered[i] = true
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
