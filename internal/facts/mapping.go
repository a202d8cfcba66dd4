package facts

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/pkg/query"
	"github.com/JaimeStill/arbiter/pkg/repository"
	"github.com/JaimeStill/arbiter/workflow"
)

var projection = query.
	NewProjectionMap("public", "facts", "f").
	Project("id", "ID").
	Project("fact_type", "Type").
	Project("content", "Content").
	Project("summary", "Summary").
	Project("confidence", "Confidence").
	Project("metadata", "Metadata").
	Project("document_id", "DocumentID").
	Project("communication_id", "CommunicationID").
	Project("status", "Status").
	Project("approved_by", "ApprovedBy").
	Project("approved_at", "ApprovedAt").
	Project("rejection_reason", "RejectionReason").
	Project("reviewed_by", "ReviewedBy").
	Project("reviewed_at", "ReviewedAt").
	Project("submitted_by", "SubmittedBy").
	Project("approval_comments", "ApprovalComments").
	Project("classification", "Classification").
	Project("is_active", "IsActive").
	Project("version", "Version").
	Project("extracted_at", "ExtractedAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

// Sort field names understood by both stores.
const (
	SortConfidence  = "Confidence"
	SortCreatedAt   = "CreatedAt"
	SortExtractedAt = "ExtractedAt"
	SortUpdatedAt   = "UpdatedAt"
)

var tieBreak = query.SortField{Field: "ID"}

// DefaultSort orders newest first.
var DefaultSort = []query.SortField{{Field: SortCreatedAt, Descending: true}}

// Filters narrows a fact query. Conditions combine with AND; nil or empty
// fields are ignored. Inactive facts never match.
type Filters struct {
	Statuses       []workflow.Status        `json:"statuses,omitempty"`
	MinConfidence  *float64                 `json:"min_confidence,omitempty"`
	MaxConfidence  *float64                 `json:"max_confidence,omitempty"`
	Types          []workflow.FactType      `json:"fact_types,omitempty"`
	Source         *workflow.SourceType     `json:"source_type,omitempty"`
	ExtractedFrom  *time.Time               `json:"extracted_from,omitempty"`
	ExtractedTo    *time.Time               `json:"extracted_to,omitempty"`
	ReviewerID     *string                  `json:"reviewer_id,omitempty"`
	SubmitterID    *string                  `json:"submitter_id,omitempty"`
	Classification *workflow.Classification `json:"classification,omitempty"`
	Search         *string                  `json:"search,omitempty"`
}

// Query is a filtered, ordered window over active facts.
type Query struct {
	Filters Filters
	Sort    []query.SortField
	Offset  int
	Limit   int
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	b.WhereEquals("IsActive", true).
		WhereIn("Status", query.Values(f.Statuses)).
		WhereGTE("Confidence", f.MinConfidence).
		WhereLTE("Confidence", f.MaxConfidence).
		WhereIn("Type", query.Values(f.Types)).
		WhereGTE("ExtractedAt", f.ExtractedFrom).
		WhereLTE("ExtractedAt", f.ExtractedTo).
		WhereEquals("ReviewedBy", f.ReviewerID).
		WhereEquals("SubmittedBy", f.SubmitterID).
		WhereEquals("Classification", f.Classification).
		WhereSearch(f.Search, "Content", "Summary")

	if f.Source != nil {
		switch *f.Source {
		case workflow.SourceDocument:
			b.WhereNotNull("DocumentID")
		case workflow.SourceCommunication:
			b.WhereNotNull("CommunicationID")
		default:
			b.WhereNull("DocumentID").WhereNull("CommunicationID")
		}
	}
	return b
}

// Matches reports whether fact satisfies every condition, mirroring Apply.
func (f Filters) Matches(fact Fact) bool {
	if !fact.IsActive {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, fact.Status) {
		return false
	}
	if f.MinConfidence != nil && fact.Confidence < *f.MinConfidence {
		return false
	}
	if f.MaxConfidence != nil && fact.Confidence > *f.MaxConfidence {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, fact.Type) {
		return false
	}
	if f.Source != nil && fact.SourceType() != *f.Source {
		return false
	}
	if f.ExtractedFrom != nil && fact.ExtractedAt.Before(*f.ExtractedFrom) {
		return false
	}
	if f.ExtractedTo != nil && fact.ExtractedAt.After(*f.ExtractedTo) {
		return false
	}
	if f.ReviewerID != nil && (fact.ReviewedBy == nil || *fact.ReviewedBy != *f.ReviewerID) {
		return false
	}
	if f.SubmitterID != nil && fact.SubmittedBy != *f.SubmitterID {
		return false
	}
	if f.Classification != nil && (fact.Classification == nil || *fact.Classification != *f.Classification) {
		return false
	}
	if f.Search != nil && *f.Search != "" {
		needle := strings.ToLower(*f.Search)
		hit := strings.Contains(strings.ToLower(fact.Content), needle)
		if !hit && fact.Summary != nil {
			hit = strings.Contains(strings.ToLower(*fact.Summary), needle)
		}
		if !hit {
			return false
		}
	}
	return true
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Repeated or comma-separated values are accepted for status and fact_type.
// Every unparseable value is reported in the joined error.
func FiltersFromQuery(values url.Values) (Filters, error) {
	var (
		f    Filters
		errs []error
	)
	invalid := func(key, v string) {
		errs = append(errs, fmt.Errorf("invalid %s %q", key, v))
	}

	for _, s := range listValues(values, "status") {
		st, err := workflow.ParseStatus(s)
		if err != nil {
			invalid("status", s)
			continue
		}
		f.Statuses = append(f.Statuses, st)
	}

	for _, s := range listValues(values, "fact_type") {
		ft, err := workflow.ParseFactType(s)
		if err != nil {
			invalid("fact_type", s)
			continue
		}
		f.Types = append(f.Types, ft)
	}

	if v := values.Get("min_confidence"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f.MinConfidence = &n
		} else {
			invalid("min_confidence", v)
		}
	}

	if v := values.Get("max_confidence"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f.MaxConfidence = &n
		} else {
			invalid("max_confidence", v)
		}
	}

	if v := values.Get("source_type"); v != "" {
		if st, err := workflow.ParseSourceType(v); err == nil {
			f.Source = &st
		} else {
			invalid("source_type", v)
		}
	}

	if v := values.Get("extracted_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.ExtractedFrom = &t
		} else {
			invalid("extracted_from", v)
		}
	}

	if v := values.Get("extracted_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.ExtractedTo = &t
		} else {
			invalid("extracted_to", v)
		}
	}

	if v := values.Get("reviewer_id"); v != "" {
		f.ReviewerID = &v
	}

	if v := values.Get("submitter_id"); v != "" {
		f.SubmitterID = &v
	}

	if v := values.Get("classification"); v != "" {
		if c, err := workflow.ParseClassification(v); err == nil {
			f.Classification = &c
		} else {
			invalid("classification", v)
		}
	}

	if v := values.Get("search"); v != "" {
		f.Search = &v
	}

	return f, errors.Join(errs...)
}

// Compare orders two facts by the given sort fields, falling back to ID so
// that ordering is total. Unknown fields compare equal.
func Compare(a, b Fact, fields []query.SortField) int {
	for _, sf := range fields {
		if c := compareField(a, b, sf); c != 0 {
			return c
		}
	}
	return compareField(a, b, tieBreak)
}

func compareField(a, b Fact, sf query.SortField) int {
	var c int
	switch sf.Field {
	case SortConfidence:
		c = cmp.Compare(a.Confidence, b.Confidence)
	case SortCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	case SortExtractedAt:
		c = a.ExtractedAt.Compare(b.ExtractedAt)
	case SortUpdatedAt:
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	case tieBreak.Field:
		c = strings.Compare(a.ID.String(), b.ID.String())
	}
	if sf.Descending {
		c = -c
	}
	return c
}

func scanFact(s repository.Scanner) (Fact, error) {
	var f Fact
	err := s.Scan(
		&f.ID,
		&f.Type,
		&f.Content,
		&f.Summary,
		&f.Confidence,
		&f.Metadata,
		&f.DocumentID,
		&f.CommunicationID,
		&f.Status,
		&f.ApprovedBy,
		&f.ApprovedAt,
		&f.RejectionReason,
		&f.ReviewedBy,
		&f.ReviewedAt,
		&f.SubmittedBy,
		&f.ApprovalComments,
		&f.Classification,
		&f.IsActive,
		&f.Version,
		&f.ExtractedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

func listValues(values url.Values, key string) []string {
	out := make([]string, 0)
	for _, v := range values[key] {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Related reports whether candidate is a peer of f: another active fact of the
// same type or drawn from the same document or communication.
func Related(f, candidate Fact) bool {
	if candidate.ID == f.ID || !candidate.IsActive {
		return false
	}
	return candidate.Type == f.Type ||
		sameSource(f.DocumentID, candidate.DocumentID) ||
		sameSource(f.CommunicationID, candidate.CommunicationID)
}

func sameSource(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}
