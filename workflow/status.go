// Package workflow implements the fact approval state machine for Arbiter.
// It provides the closed status, role, and classification enums, the
// table-driven transition validator, the auto-approval evaluator, the
// confidence adjuster, and the clearance filter. Everything here is pure:
// no I/O, no shared mutable state.
package workflow

import (
	"encoding/json"
	"slices"
)

// Status is the approval status of a fact.
type Status string

// Approval statuses.
const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusNeedsReview Status = "needs_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

var statuses = []Status{
	StatusPending,
	StatusUnderReview,
	StatusNeedsReview,
	StatusApproved,
	StatusRejected,
}

// QueueStatuses are the statuses shown in the approval queue when the caller
// does not filter by status. Terminal statuses are excluded.
var QueueStatuses = []Status{
	StatusPending,
	StatusUnderReview,
	StatusNeedsReview,
}

// Statuses returns every known status.
func Statuses() []Status {
	return slices.Clone(statuses)
}

// ParseStatus validates a string as a known status.
func ParseStatus(s string) (Status, error) {
	v := Status(s)
	if !slices.Contains(statuses, v) {
		return "", ErrInvalidStatus
	}
	return v, nil
}

// Terminal reports whether the status ends the review cycle.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(statuses, s)
}

// UnmarshalJSON rejects unknown status values.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Action is a reviewer decision.
type Action string

// Decision actions.
const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates a string as a decision action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject:
		return Action(s), nil
	}
	return "", ErrInvalidAction
}

// Target returns the status a decision moves a fact into.
func (a Action) Target() Status {
	if a == ActionReject {
		return StatusRejected
	}
	return StatusApproved
}

// UnmarshalJSON rejects unknown actions.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseAction(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
