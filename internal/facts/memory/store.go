// Package memory provides an in-process facts.Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/pkg/query"
	"github.com/JaimeStill/arbiter/workflow"
)

// Store is a facts.Store backed by maps guarded by a single RWMutex.
type Store struct {
	mu             sync.RWMutex
	facts          map[uuid.UUID]facts.Fact
	documents      map[uuid.UUID]struct{}
	communications map[uuid.UUID]struct{}
	now            func() time.Time
}

var _ facts.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New(options ...Option) *Store {
	s := &Store{
		facts:          make(map[uuid.UUID]facts.Fact),
		documents:      make(map[uuid.UUID]struct{}),
		communications: make(map[uuid.UUID]struct{}),
		now:            time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Put inserts or replaces a fact verbatim. Zero IDs and versions are filled in.
func (s *Store) Put(f facts.Fact) facts.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Version == 0 {
		f.Version = 1
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	if f.ExtractedAt.IsZero() {
		f.ExtractedAt = f.CreatedAt
	}
	s.facts[f.ID] = f
	return f
}

func (s *Store) Find(_ context.Context, id uuid.UUID) (*facts.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facts[id]
	if !ok {
		return nil, facts.ErrNotFound
	}
	return &f, nil
}

func (s *Store) List(_ context.Context, q facts.Query) ([]facts.Fact, int, error) {
	s.mu.RLock()
	matched := make([]facts.Fact, 0)
	for _, f := range s.facts {
		if q.Filters.Matches(f) {
			matched = append(matched, f)
		}
	}
	s.mu.RUnlock()

	sort := q.Sort
	if len(sort) == 0 {
		sort = facts.DefaultSort
	}
	slices.SortFunc(matched, func(a, b facts.Fact) int {
		return facts.Compare(a, b, sort)
	})

	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return slices.Clone(matched[start:end]), total, nil
}

func (s *Store) Summary(_ context.Context) (facts.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum facts.Summary
	var confidence float64
	var n int
	for _, f := range s.facts {
		if !f.IsActive {
			continue
		}
		switch f.Status {
		case workflow.StatusPending:
			sum.Pending++
		case workflow.StatusUnderReview:
			sum.UnderReview++
		case workflow.StatusNeedsReview:
			sum.NeedsReview++
		}
		if f.Status == workflow.StatusPending || f.Status == workflow.StatusUnderReview {
			confidence += f.Confidence
			n++
		}
	}
	if n > 0 {
		sum.AverageConfidence = confidence / float64(n)
	}
	return sum, nil
}

func (s *Store) Related(_ context.Context, f *facts.Fact, limit int) ([]facts.Fact, error) {
	s.mu.RLock()
	related := make([]facts.Fact, 0)
	for _, candidate := range s.facts {
		if facts.Related(*f, candidate) {
			related = append(related, candidate)
		}
	}
	s.mu.RUnlock()

	order := []query.SortField{
		{Field: facts.SortConfidence, Descending: true},
		{Field: facts.SortCreatedAt, Descending: true},
	}
	slices.SortFunc(related, func(a, b facts.Fact) int {
		return facts.Compare(a, b, order)
	})

	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}

func (s *Store) Create(_ context.Context, cmd facts.CreateCommand) (*facts.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.DocumentID != nil {
		if _, ok := s.documents[*cmd.DocumentID]; !ok {
			return nil, facts.ErrSourceNotFound
		}
	}
	if cmd.CommunicationID != nil {
		if _, ok := s.communications[*cmd.CommunicationID]; !ok {
			return nil, facts.ErrSourceNotFound
		}
	}

	now := s.now()
	extracted := cmd.ExtractedAt
	if extracted.IsZero() {
		extracted = now
	}

	f := facts.Fact{
		ID:              uuid.New(),
		Type:            cmd.Type,
		Content:         cmd.Content,
		Summary:         cmd.Summary,
		Confidence:      cmd.Confidence,
		Metadata:        cmd.Metadata,
		DocumentID:      cmd.DocumentID,
		CommunicationID: cmd.CommunicationID,
		Status:          workflow.StatusPending,
		SubmittedBy:     cmd.SubmittedBy,
		Classification:  cmd.Classification,
		IsActive:        true,
		Version:         1,
		ExtractedAt:     extracted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.facts[f.ID] = f
	return &f, nil
}

func (s *Store) Update(_ context.Context, u facts.Update) (*facts.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[u.ID]
	if !ok || !f.IsActive || f.Status != u.From || f.Version != u.Version {
		return nil, facts.ErrStale
	}

	f.Status = u.To
	f.ApprovedBy = u.ApprovedBy
	f.ApprovedAt = u.ApprovedAt
	f.RejectionReason = u.RejectionReason
	f.ReviewedBy = u.ReviewedBy
	f.ReviewedAt = u.ReviewedAt
	f.ApprovalComments = u.ApprovalComments
	f.UpdatedAt = u.At
	f.Version++

	s.facts[f.ID] = f
	return &f, nil
}

func (s *Store) Deactivate(_ context.Context, id uuid.UUID, version int) (*facts.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok || !f.IsActive || f.Version != version {
		return nil, facts.ErrStale
	}

	f.IsActive = false
	f.UpdatedAt = s.now()
	f.Version++

	s.facts[id] = f
	return &f, nil
}

func (s *Store) SourceExists(_ context.Context, kind workflow.SourceType, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch kind {
	case workflow.SourceDocument:
		_, ok := s.documents[id]
		return ok, nil
	case workflow.SourceCommunication:
		_, ok := s.communications[id]
		return ok, nil
	}
	return false, fmt.Errorf("%w: %q", workflow.ErrInvalidSourceType, kind)
}
