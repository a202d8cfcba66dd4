package approvals

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/pkg/pagination"
	"github.com/JaimeStill/arbiter/pkg/query"
	"github.com/JaimeStill/arbiter/workflow"
)

// SortBy selects the queue ordering.
type SortBy string

// Queue orderings. Priority is confidence descending, then newest first,
// and ignores SortOrder.
const (
	SortByConfidence SortBy = "confidence"
	SortByCreatedAt  SortBy = "created_at"
	SortByPriority   SortBy = "priority"
)

// SortOrder is the direction for confidence and created_at orderings.
type SortOrder string

// Sort directions.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueueRequest selects one page of the approval queue.
type QueueRequest struct {
	facts.Filters
	SortBy    SortBy    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
}

// QueueRequestFromQuery parses filters, sort, and pagination from URL query values.
// Unparseable values yield an ErrInvalidRequest naming each of them.
func QueueRequestFromQuery(values url.Values) (QueueRequest, error) {
	filters, err := facts.FiltersFromQuery(values)
	errs := []error{err}

	page, err := queryInt(values, "page")
	errs = append(errs, err)
	pageSize, err := queryInt(values, "page_size")
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return QueueRequest{}, reasoned(ErrInvalidRequest, "%s", strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	return QueueRequest{
		Filters:   filters,
		SortBy:    SortBy(values.Get("sort_by")),
		SortOrder: SortOrder(values.Get("sort_order")),
		Page:      page,
		PageSize:  pageSize,
	}, nil
}

func queryInt(values url.Values, key string) (int, error) {
	v := values.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func (r QueueRequest) sortFields() ([]query.SortField, error) {
	desc := true
	switch r.SortOrder {
	case "", SortDesc:
	case SortAsc:
		desc = false
	default:
		return nil, reasoned(ErrInvalidRequest, "Invalid sort_order %q", r.SortOrder)
	}

	switch r.SortBy {
	case "", SortByCreatedAt:
		return []query.SortField{{Field: facts.SortCreatedAt, Descending: desc}}, nil
	case SortByConfidence:
		return []query.SortField{{Field: facts.SortConfidence, Descending: desc}}, nil
	case SortByPriority:
		return []query.SortField{
			{Field: facts.SortConfidence, Descending: true},
			{Field: facts.SortCreatedAt, Descending: true},
		}, nil
	}
	return nil, reasoned(ErrInvalidRequest, "Invalid sort_by %q", r.SortBy)
}

// QueueItem is a fact as shown in the queue, with its adjusted confidence.
type QueueItem struct {
	facts.Fact
	AdjustedConfidence float64         `json:"adjusted_confidence"`
	ConfidenceBucket   workflow.Bucket `json:"confidence_bucket"`
}

func newQueueItem(f facts.Fact) QueueItem {
	adjusted := f.Candidate().AdjustedConfidence()
	return QueueItem{
		Fact:               f,
		AdjustedConfidence: adjusted,
		ConfidenceBucket:   workflow.BucketFor(adjusted),
	}
}

// Queue is one page of the approval queue. Total, TotalPages, and HasMore
// count matches before the clearance filter; Visible is the number of items
// actually returned on this page.
type Queue struct {
	pagination.PageResult[QueueItem]
	Visible int           `json:"visible"`
	Summary facts.Summary `json:"summary"`
}

// Transition is a next status the caller may move a fact to.
type Transition struct {
	To              workflow.Status `json:"to"`
	RequiresComment bool            `json:"requires_comment"`
	AutoApproval    bool            `json:"auto_approval,omitempty"`
}

// Review is the full view of a fact for a reviewer.
type Review struct {
	Fact               facts.Fact      `json:"fact"`
	AdjustedConfidence float64         `json:"adjusted_confidence"`
	ConfidenceBucket   workflow.Bucket `json:"confidence_bucket"`
	AutoApprovable     bool            `json:"auto_approvable"`
	Transitions        []Transition    `json:"allowed_transitions"`
	Related            []facts.Fact    `json:"related_facts"`
}

// Decision is an approve or reject verdict on one fact.
type Decision struct {
	Action   workflow.Action `json:"action"`
	Comments *string         `json:"comments,omitempty"`
	Reason   *string         `json:"reason,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// StatusChange moves a fact to an arbitrary status allowed by the rules.
type StatusChange struct {
	Status   workflow.Status `json:"status"`
	Comments *string         `json:"comments,omitempty"`
}

// BulkRequest applies one decision to many facts.
type BulkRequest struct {
	FactIDs  []uuid.UUID     `json:"fact_ids"`
	Action   workflow.Action `json:"action"`
	Comments *string         `json:"comments,omitempty"`
	Reason   *string         `json:"reason,omitempty"`
}

// BulkSuccess is one applied item of a batch.
type BulkSuccess struct {
	FactID uuid.UUID       `json:"fact_id"`
	Status workflow.Status `json:"status"`
}

// BulkFailure is one rejected item of a batch.
type BulkFailure struct {
	FactID uuid.UUID `json:"fact_id"`
	Error  string    `json:"error"`
}

// BulkSummary counts batch outcomes. Total always equals Successful + Failed.
type BulkSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkResult partitions a batch's ids into successes and failures, each in input order.
type BulkResult struct {
	Successful []BulkSuccess `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	Summary    BulkSummary   `json:"summary"`
}

// SubmitRequest creates a new pending fact.
type SubmitRequest struct {
	Type            workflow.FactType        `json:"fact_type"`
	Content         string                   `json:"content"`
	Summary         *string                  `json:"summary,omitempty"`
	Confidence      *float64                 `json:"confidence"`
	Metadata        facts.Metadata           `json:"metadata"`
	DocumentID      *uuid.UUID               `json:"document_id,omitempty"`
	CommunicationID *uuid.UUID               `json:"communication_id,omitempty"`
	Classification  *workflow.Classification `json:"classification,omitempty"`
	ExtractedAt     *time.Time               `json:"extracted_at,omitempty"`
}

// UnmarshalJSON validates the classification while decoding.
func (r *SubmitRequest) UnmarshalJSON(data []byte) error {
	type alias SubmitRequest
	aux := struct {
		*alias
		Classification *string `json:"classification,omitempty"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Classification = nil
	if aux.Classification != nil {
		c, err := workflow.ParseClassification(*aux.Classification)
		if err != nil {
			return err
		}
		r.Classification = &c
	}
	return nil
}
