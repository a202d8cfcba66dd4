// Package facts implements the fact domain: the persisted knowledge units that
// move through the approval workflow, their query filters, and the stores
// (PostgreSQL and in-memory) that hold them.
package facts

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/workflow"
)

// Fact is an extracted unit of organizational knowledge under workflow control.
type Fact struct {
	ID               uuid.UUID                `json:"id"`
	Type             workflow.FactType        `json:"fact_type"`
	Content          string                   `json:"content"`
	Summary          *string                  `json:"summary"`
	Confidence       float64                  `json:"confidence"`
	Metadata         Metadata                 `json:"metadata"`
	DocumentID       *uuid.UUID               `json:"document_id"`
	CommunicationID  *uuid.UUID               `json:"communication_id"`
	Status           workflow.Status          `json:"status"`
	ApprovedBy       *string                  `json:"approved_by"`
	ApprovedAt       *time.Time               `json:"approved_at"`
	RejectionReason  *string                  `json:"rejection_reason"`
	ReviewedBy       *string                  `json:"reviewed_by"`
	ReviewedAt       *time.Time               `json:"reviewed_at"`
	SubmittedBy      string                   `json:"submitted_by"`
	ApprovalComments *string                  `json:"approval_comments"`
	Classification   *workflow.Classification `json:"classification"`
	IsActive         bool                     `json:"is_active"`
	Version          int                      `json:"version"`
	ExtractedAt      time.Time                `json:"extracted_at"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Marking implements workflow.Classified.
func (f Fact) Marking() *workflow.Classification {
	return f.Classification
}

// SourceType derives the provenance kind from whichever source reference is set.
func (f Fact) SourceType() workflow.SourceType {
	switch {
	case f.DocumentID != nil:
		return workflow.SourceDocument
	case f.CommunicationID != nil:
		return workflow.SourceCommunication
	}
	return workflow.SourceNone
}

// Candidate projects the fact into the inputs of the confidence and auto-approval rules.
func (f Fact) Candidate() workflow.Candidate {
	return workflow.Candidate{
		Type:       f.Type,
		Confidence: f.Confidence,
		Flags:      f.Metadata.Flags(),
		Source:     f.SourceType(),
	}
}

// Metadata holds the reliability flags read by the confidence adjuster plus any
// free-form attributes supplied at extraction time. It is stored as JSONB.
type Metadata struct {
	Verified  bool
	Uncertain bool
	Automated bool
	Extra     map[string]any
}

// Flags returns the reliability flags.
func (m Metadata) Flags() workflow.Flags {
	return workflow.Flags{
		Verified:  m.Verified,
		Uncertain: m.Uncertain,
		Automated: m.Automated,
	}
}

// MarshalJSON flattens flags and extras into one object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Verified {
		out["verified"] = true
	}
	if m.Uncertain {
		out["uncertain"] = true
	}
	if m.Automated {
		out["automated"] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the reliability flags out of a flat object.
// Flags accept only booleans; any other value is an error.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	for k, v := range raw {
		var dst *bool
		switch k {
		case "verified":
			dst = &m.Verified
		case "uncertain":
			dst = &m.Uncertain
		case "automated":
			dst = &m.Automated
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
			continue
		}

		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("metadata %s: expected boolean, got %T", k, v)
		}
		*dst = b
	}
	return nil
}

// Value implements driver.Valuer for JSONB columns.
func (m Metadata) Value() (driver.Value, error) {
	return m.MarshalJSON()
}

// Scan implements sql.Scanner for JSONB columns.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	}
	return fmt.Errorf("metadata: unsupported scan type %T", src)
}

// CreateCommand carries the data needed to persist a newly submitted fact.
// A zero ExtractedAt defaults to the insert time.
type CreateCommand struct {
	Type            workflow.FactType
	Content         string
	Summary         *string
	Confidence      float64
	Metadata        Metadata
	DocumentID      *uuid.UUID
	CommunicationID *uuid.UUID
	Classification  *workflow.Classification
	SubmittedBy     string
	ExtractedAt     time.Time
}

// Update is a conditional write of workflow state. It applies only while the
// stored row still matches ID, From, Version, and is active; otherwise the
// store returns ErrStale. Nil pointer fields are written as NULL.
type Update struct {
	ID      uuid.UUID
	From    workflow.Status
	Version int

	To               workflow.Status
	ApprovedBy       *string
	ApprovedAt       *time.Time
	RejectionReason  *string
	ReviewedBy       *string
	ReviewedAt       *time.Time
	ApprovalComments *string
	At               time.Time
}

// Summary holds queue-wide counts independent of any filter.
type Summary struct {
	Pending           int     `json:"pending"`
	UnderReview       int     `json:"under_review"`
	NeedsReview       int     `json:"needs_review"`
	AverageConfidence float64 `json:"average_confidence"`
}
