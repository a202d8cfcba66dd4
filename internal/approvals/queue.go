package approvals

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/pkg/pagination"
	"github.com/JaimeStill/arbiter/workflow"
)

const summaryKey = "summary"

func (e *engine) GetQueue(ctx context.Context, req QueueRequest, caller workflow.Caller) (*Queue, error) {
	start := time.Now()
	defer e.metrics.queue(ctx, start)

	sort, err := req.sortFields()
	if err != nil {
		return nil, e.fail(ctx, "queue", err)
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, e.fail(ctx, "queue", err)
	}

	page := pagination.PageRequest{Page: req.Page, PageSize: req.PageSize}
	page.Normalize(e.pagination)

	filters := req.Filters
	if len(filters.Statuses) == 0 {
		filters.Statuses = slices.Clone(workflow.QueueStatuses)
	}

	var (
		items   []facts.Fact
		total   int
		summary facts.Summary
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		items, total, err = e.store.List(gctx, facts.Query{
			Filters: filters,
			Sort:    sort,
			Offset:  page.Offset(),
			Limit:   page.PageSize,
		})
		if err != nil {
			return fmt.Errorf("list facts: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		summary, err = e.summary(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	visible := workflow.FilterByClearance(items, caller.Clearance)
	queued := make([]QueueItem, len(visible))
	for i, f := range visible {
		queued[i] = newQueueItem(f)
	}

	return &Queue{
		PageResult: pagination.NewPageResult(queued, total, page.Page, page.PageSize),
		Visible:    len(queued),
		Summary:    summary,
	}, nil
}

func (e *engine) summary(ctx context.Context) (facts.Summary, error) {
	if e.summaries == nil {
		s, err := e.store.Summary(ctx)
		if err != nil {
			return facts.Summary{}, fmt.Errorf("summarize queue: %w", err)
		}
		return s, nil
	}

	if v, ok := e.summaries.Get(summaryKey); ok {
		return v.(facts.Summary), nil
	}

	gen := e.summaryGen.Load()
	s, err := e.store.Summary(ctx)
	if err != nil {
		return facts.Summary{}, fmt.Errorf("summarize queue: %w", err)
	}

	// A write landed during the read; serve the result but do not cache it.
	e.summaryMu.Lock()
	if e.summaryGen.Load() == gen {
		e.summaries.Set(summaryKey, s, gocache.DefaultExpiration)
	}
	e.summaryMu.Unlock()
	return s, nil
}

func validateFilters(f facts.Filters) error {
	for _, c := range []*float64{f.MinConfidence, f.MaxConfidence} {
		if c != nil && !workflow.ValidConfidence(*c) {
			return reasoned(ErrInvalidRequest, "Confidence filters must be between 0 and 1")
		}
	}
	if f.MinConfidence != nil && f.MaxConfidence != nil && *f.MinConfidence > *f.MaxConfidence {
		return reasoned(ErrInvalidRequest, "min_confidence must not exceed max_confidence")
	}
	if f.ExtractedFrom != nil && f.ExtractedTo != nil && f.ExtractedFrom.After(*f.ExtractedTo) {
		return reasoned(ErrInvalidRequest, "extracted_from must not be after extracted_to")
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return reasoned(ErrInvalidRequest, "Invalid status %q", s)
		}
	}
	return nil
}

func (e *engine) GetFactForReview(ctx context.Context, id uuid.UUID, caller workflow.Caller) (*Review, error) {
	f, err := e.load(ctx, id, caller)
	if err != nil {
		return nil, e.fail(ctx, "review", err)
	}

	// Over-fetch so that peers hidden by clearance do not starve the list.
	candidates, err := e.store.Related(ctx, f, e.cfg.RelatedLimit*3)
	if err != nil {
		return nil, fmt.Errorf("related facts: %w", err)
	}

	related := workflow.FilterByClearance(candidates, caller.Clearance)
	if len(related) > e.cfg.RelatedLimit {
		related = related[:e.cfg.RelatedLimit]
	}

	candidate := f.Candidate()
	adjusted := candidate.AdjustedConfidence()

	return &Review{
		Fact:               *f,
		AdjustedConfidence: adjusted,
		ConfidenceBucket:   workflow.BucketFor(adjusted),
		AutoApprovable:     e.rules.CheckAutoApproval(candidate, caller.Roles),
		Transitions:        e.allowed(*f, caller.Roles),
		Related:            related,
	}, nil
}

// allowed lists the transitions caller may apply to f. Rules gated by an
// auto-approval predicate are listed only when f satisfies it.
func (e *engine) allowed(f facts.Fact, roles workflow.Roles) []Transition {
	next := e.rules.Next(f.Status, roles)
	out := make([]Transition, 0, len(next))
	for _, rule := range next {
		if !rule.AutoApproval.Allows(f.Candidate()) {
			continue
		}
		out = append(out, Transition{
			To:              rule.To,
			RequiresComment: rule.RequiresComment,
			AutoApproval:    rule.AutoApproval != nil,
		})
	}
	return out
}

func (e *engine) CheckAutoApproval(ctx context.Context, id uuid.UUID, caller workflow.Caller) (bool, error) {
	f, err := e.load(ctx, id, caller)
	if err != nil {
		return false, e.fail(ctx, "auto_approval", err)
	}
	if f.Status != workflow.StatusPending {
		return false, nil
	}
	return e.rules.CheckAutoApproval(f.Candidate(), caller.Roles), nil
}

func (e *engine) Find(ctx context.Context, id uuid.UUID, caller workflow.Caller) (*facts.Fact, error) {
	f, err := e.load(ctx, id, caller)
	if err != nil {
		return nil, e.fail(ctx, "find", err)
	}
	return f, nil
}
