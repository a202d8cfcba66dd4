package facts

import (
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/pkg/query"
	"github.com/JaimeStill/arbiter/workflow"
)

func ptr[T any](v T) *T { return &v }

func TestFiltersApplyDefault(t *testing.T) {
	qb := query.NewBuilder(projection)
	Filters{}.Apply(qb)

	sql, args := qb.BuildCount()
	assert.Equal(t, "SELECT COUNT(*) FROM public.facts f WHERE f.is_active = $1", sql)
	assert.Equal(t, []any{true}, args)
}

func TestFiltersApplyAll(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Filters{
		Statuses:       []workflow.Status{workflow.StatusPending, workflow.StatusUnderReview},
		MinConfidence:  ptr(0.5),
		MaxConfidence:  ptr(0.9),
		Types:          []workflow.FactType{workflow.FactTypeRisk},
		Source:         ptr(workflow.SourceDocument),
		ExtractedFrom:  &from,
		ReviewerID:     ptr("km-1"),
		Classification: ptr(workflow.Secret),
		Search:         ptr("budget"),
	}

	qb := query.NewBuilder(projection)
	f.Apply(qb)
	sql, args := qb.BuildCount()

	want := "SELECT COUNT(*) FROM public.facts f WHERE f.is_active = $1" +
		" AND f.status IN ($2, $3)" +
		" AND f.confidence >= $4 AND f.confidence <= $5" +
		" AND f.fact_type IN ($6)" +
		" AND f.extracted_at >= $7" +
		" AND f.reviewed_by = $8" +
		" AND f.classification = $9" +
		" AND (f.content ILIKE $10 ESCAPE '\\' OR f.summary ILIKE $11 ESCAPE '\\')" +
		" AND f.document_id IS NOT NULL"
	assert.Equal(t, want, sql)
	assert.Len(t, args, 11)
}

func TestFiltersApplySourceNone(t *testing.T) {
	qb := query.NewBuilder(projection)
	Filters{Source: ptr(workflow.SourceNone)}.Apply(qb)

	sql, _ := qb.BuildCount()
	assert.Contains(t, sql, "f.document_id IS NULL AND f.communication_id IS NULL")
}

// ilike evaluates a LIKE pattern with ESCAPE '\' case-insensitively.
func ilike(pattern, text string) bool {
	var re strings.Builder
	re.WriteString("(?is)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			re.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			re.WriteString(".*")
		case r == '_':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re.WriteString("$")
	return regexp.MustCompile(re.String()).MatchString(text)
}

func TestFiltersSearchApplyMatchesParity(t *testing.T) {
	contents := []string{
		"5000 offers",
		"50%_off sale",
		"a_b rollout",
		"axb rollout",
		`path c:\tmp\x`,
		"Quarterly BUDGET",
	}
	searches := []string{"50%_off", "a_b", `c:\tmp`, "budget", "%", "_"}

	for _, search := range searches {
		qb := query.NewBuilder(projection)
		f := Filters{Search: ptr(search)}
		f.Apply(qb)
		_, args := qb.BuildCount()
		require.Len(t, args, 3)
		pattern, ok := args[1].(string)
		require.True(t, ok)

		for _, content := range contents {
			fact := Fact{Content: content, IsActive: true}
			assert.Equal(t, ilike(pattern, content), f.Matches(fact),
				"search %q against %q", search, content)
		}
	}

	f := Filters{Search: ptr("50%_off")}
	assert.False(t, f.Matches(Fact{Content: "5000 offers", IsActive: true}))
	assert.True(t, f.Matches(Fact{Content: "50%_off sale", IsActive: true}))
}

func TestFiltersMatches(t *testing.T) {
	doc := uuid.New()
	extracted := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fact := Fact{
		ID:             uuid.New(),
		Type:           workflow.FactTypeMetric,
		Content:        "Quarterly Budget rose",
		Confidence:     0.7,
		DocumentID:     &doc,
		Status:         workflow.StatusUnderReview,
		ReviewedBy:     ptr("km-1"),
		SubmittedBy:    "analyst-1",
		Classification: ptr(workflow.Confidential),
		IsActive:       true,
		ExtractedAt:    extracted,
	}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"empty", Filters{}, true},
		{"status hit", Filters{Statuses: []workflow.Status{workflow.StatusUnderReview}}, true},
		{"status miss", Filters{Statuses: []workflow.Status{workflow.StatusPending}}, false},
		{"range hit", Filters{MinConfidence: ptr(0.7), MaxConfidence: ptr(0.7)}, true},
		{"below min", Filters{MinConfidence: ptr(0.71)}, false},
		{"type miss", Filters{Types: []workflow.FactType{workflow.FactTypeRisk}}, false},
		{"source hit", Filters{Source: ptr(workflow.SourceDocument)}, true},
		{"source miss", Filters{Source: ptr(workflow.SourceCommunication)}, false},
		{"extracted before window", Filters{ExtractedFrom: ptr(extracted.Add(time.Hour))}, false},
		{"extracted inside window", Filters{ExtractedFrom: &extracted, ExtractedTo: &extracted}, true},
		{"reviewer hit", Filters{ReviewerID: ptr("km-1")}, true},
		{"reviewer miss", Filters{ReviewerID: ptr("km-2")}, false},
		{"submitter miss", Filters{SubmitterID: ptr("analyst-2")}, false},
		{"classification miss", Filters{Classification: ptr(workflow.Secret)}, false},
		{"search case insensitive", Filters{Search: ptr("budget")}, true},
		{"search miss", Filters{Search: ptr("headcount")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Matches(fact))
		})
	}

	inactive := fact
	inactive.IsActive = false
	assert.False(t, Filters{}.Matches(inactive))
}

func TestFiltersFromQuery(t *testing.T) {
	values := url.Values{
		"status":         {"pending,under_review"},
		"fact_type":      {"risk"},
		"min_confidence": {"0.4"},
		"source_type":    {"communication"},
		"extracted_from": {"2026-01-02T03:04:05Z"},
		"classification": {"Top Secret"},
		"search":         {"budget"},
	}

	f, err := FiltersFromQuery(values)
	require.NoError(t, err)
	assert.Equal(t, []workflow.Status{workflow.StatusPending, workflow.StatusUnderReview}, f.Statuses)
	assert.Equal(t, []workflow.FactType{workflow.FactTypeRisk}, f.Types)
	require.NotNil(t, f.MinConfidence)
	assert.Equal(t, 0.4, *f.MinConfidence)
	assert.Nil(t, f.MaxConfidence)
	require.NotNil(t, f.Source)
	assert.Equal(t, workflow.SourceCommunication, *f.Source)
	require.NotNil(t, f.ExtractedFrom)
	require.NotNil(t, f.Classification)
	assert.Equal(t, workflow.TopSecret, *f.Classification)
	require.NotNil(t, f.Search)
}

func TestFiltersFromQueryRejectsUnparseable(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		want   []string
	}{
		{"status", url.Values{"status": {"pending,bogus"}}, []string{`invalid status "bogus"`}},
		{"fact_type", url.Values{"fact_type": {"rumor"}}, []string{`invalid fact_type "rumor"`}},
		{"confidence", url.Values{"max_confidence": {"nope"}}, []string{`invalid max_confidence "nope"`}},
		{"source_type", url.Values{"source_type": {"fax"}}, []string{`invalid source_type "fax"`}},
		{"classification", url.Values{"classification": {"cosmic"}}, []string{`invalid classification "cosmic"`}},
		{"extracted_to", url.Values{"extracted_to": {"yesterday"}}, []string{`invalid extracted_to "yesterday"`}},
		{
			"every failure reported",
			url.Values{"status": {"bogus"}, "classification": {"cosmic"}},
			[]string{`invalid status "bogus"`, `invalid classification "cosmic"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FiltersFromQuery(tt.values)
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Fact{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Confidence: 0.9, CreatedAt: t0}
	b := Fact{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Confidence: 0.9, CreatedAt: t0.Add(time.Hour)}

	priority := []query.SortField{
		{Field: SortConfidence, Descending: true},
		{Field: SortCreatedAt, Descending: true},
	}
	assert.Positive(t, Compare(a, b, priority))
	assert.Negative(t, Compare(a, b, []query.SortField{{Field: SortCreatedAt}}))

	assert.Zero(t, Compare(a, a, nil))
	assert.Negative(t, Compare(a, b, nil), "ties break on id")
}
