package memory

import (
	"time"

	"github.com/google/uuid"
)

// Option configures the in-memory store.
type Option func(*Store)

// WithClock replaces time.Now for created and updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDocuments registers document IDs that SourceExists reports as present.
func WithDocuments(ids ...uuid.UUID) Option {
	return func(s *Store) {
		for _, id := range ids {
			s.documents[id] = struct{}{}
		}
	}
}

// WithCommunications registers communication IDs that SourceExists reports as present.
func WithCommunications(ids ...uuid.UUID) Option {
	return func(s *Store) {
		for _, id := range ids {
			s.communications[id] = struct{}{}
		}
	}
}
