package facts_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/workflow"
)

func TestMetadataJSON(t *testing.T) {
	var m facts.Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"verified":true,"page":3,"automated":false}`), &m))

	assert.True(t, m.Verified)
	assert.False(t, m.Automated)
	assert.Equal(t, map[string]any{"page": float64(3)}, m.Extra)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verified":true,"page":3}`, string(out))
}

func TestMetadataRejectsNonBooleanFlags(t *testing.T) {
	var m facts.Metadata
	err := json.Unmarshal([]byte(`{"uncertain":"yes"}`), &m)
	assert.ErrorContains(t, err, "expected boolean")
}

func TestMetadataScan(t *testing.T) {
	var m facts.Metadata
	require.NoError(t, m.Scan([]byte(`{"uncertain":true}`)))
	assert.True(t, m.Uncertain)

	require.NoError(t, m.Scan(nil))
	assert.Equal(t, facts.Metadata{}, m)

	assert.Error(t, m.Scan(42))
}

func TestSourceType(t *testing.T) {
	doc := uuid.New()
	comm := uuid.New()

	assert.Equal(t, workflow.SourceDocument, facts.Fact{DocumentID: &doc}.SourceType())
	assert.Equal(t, workflow.SourceCommunication, facts.Fact{CommunicationID: &comm}.SourceType())
	assert.Equal(t, workflow.SourceNone, facts.Fact{}.SourceType())
}

func TestCandidate(t *testing.T) {
	doc := uuid.New()
	f := facts.Fact{
		Type:       workflow.FactTypeMetric,
		Confidence: 0.7,
		Metadata:   facts.Metadata{Verified: true},
		DocumentID: &doc,
	}

	c := f.Candidate()
	assert.Equal(t, workflow.FactTypeMetric, c.Type)
	assert.InDelta(t, 0.924, c.AdjustedConfidence(), 1e-9)
}

func TestRelated(t *testing.T) {
	doc := uuid.New()
	base := facts.Fact{ID: uuid.New(), Type: workflow.FactTypeRisk, DocumentID: &doc, IsActive: true}

	tests := []struct {
		name      string
		candidate facts.Fact
		want      bool
	}{
		{"self", base, false},
		{"same type", facts.Fact{ID: uuid.New(), Type: workflow.FactTypeRisk, IsActive: true}, true},
		{"same document", facts.Fact{ID: uuid.New(), Type: workflow.FactTypeEvent, DocumentID: &doc, IsActive: true}, true},
		{"unrelated", facts.Fact{ID: uuid.New(), Type: workflow.FactTypeEvent, IsActive: true}, false},
		{"inactive", facts.Fact{ID: uuid.New(), Type: workflow.FactTypeRisk}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, facts.Related(base, tt.candidate))
		})
	}
}
