package facts

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/workflow"
)

// Store is the persistence contract the approval engine depends on.
// Implementations must make Update and Deactivate atomic compare-and-set
// operations keyed on status and version.
type Store interface {
	// Find returns the fact with the given ID, active or not.
	Find(ctx context.Context, id uuid.UUID) (*Fact, error)
	// List returns one window of active facts matching q and the total match count.
	List(ctx context.Context, q Query) ([]Fact, int, error)
	// Summary returns queue-wide counts over active facts.
	Summary(ctx context.Context) (Summary, error)
	// Related returns up to limit active peers of f ordered by confidence.
	Related(ctx context.Context, f *Fact, limit int) ([]Fact, error)
	// Create persists a new pending fact.
	Create(ctx context.Context, cmd CreateCommand) (*Fact, error)
	// Update applies a conditional workflow write. Returns ErrStale when the
	// stored status, version, or active flag no longer match.
	Update(ctx context.Context, u Update) (*Fact, error)
	// Deactivate soft-deletes the fact if it is still at version.
	Deactivate(ctx context.Context, id uuid.UUID, version int) (*Fact, error)
	// SourceExists reports whether the referenced document or communication exists.
	SourceExists(ctx context.Context, kind workflow.SourceType, id uuid.UUID) (bool, error)
}
