// Package audit carries workflow side effects to external sinks. Records are
// best effort: the approval path enqueues them and moves on, and a background
// writer delivers them to PostgreSQL, blob storage, or NATS.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names the workflow event being recorded.
type Action string

// Recorded actions.
const (
	ActionSubmit       Action = "fact_submitted"
	ActionApprove      Action = "fact_approved"
	ActionReject       Action = "fact_rejected"
	ActionStatusChange Action = "fact_status_changed"
	ActionDeactivate   Action = "fact_deactivated"
	ActionBulkApprove  Action = "bulk_approve"
	ActionBulkReject   Action = "bulk_reject"
)

// Entity types referenced by records.
const (
	EntityFact  = "fact"
	EntityBatch = "fact_batch"
)

// Record is one audit entry. OldValues and NewValues hold the fields that
// changed; for batch records NewValues carries the id list and summary.
type Record struct {
	ID         uuid.UUID      `json:"id"`
	UserID     string         `json:"user_id"`
	Action     Action         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	At         time.Time      `json:"at"`
}

// Sink persists or forwards audit records.
type Sink interface {
	Record(ctx context.Context, r Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r Record) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, r Record) error {
	return f(ctx, r)
}

// Discard drops every record.
var Discard Sink = SinkFunc(func(context.Context, Record) error { return nil })
