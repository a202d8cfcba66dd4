package approvals_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/internal/approvals"
	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/internal/facts/memory"
	"github.com/JaimeStill/arbiter/workflow"
)

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	doc := uuid.New()
	store := memory.New(memory.WithClock(clock), memory.WithDocuments(doc))
	rec := &recorder{}
	sys := newEngine(t, store, approvals.WithAudit(rec))

	f, err := sys.Submit(ctx, approvals.SubmitRequest{
		Type:       workflow.FactTypeDecision,
		Content:    "  Vendor selection deferred to FY27  ",
		Confidence: ptr(0.7),
		Metadata:   facts.Metadata{Verified: true},
		DocumentID: &doc,
	}, plainUser)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusPending, f.Status)
	assert.Equal(t, "Vendor selection deferred to FY27", f.Content)
	assert.Equal(t, 0.7, f.Confidence)
	assert.Equal(t, "user-1", f.SubmittedBy)
	assert.Equal(t, 1, f.Version)
	assert.True(t, f.IsActive)
	assert.Equal(t, epoch, f.ExtractedAt)

	rec.mu.Lock()
	require.Len(t, rec.records, 1)
	submitted := rec.records[0]
	rec.mu.Unlock()
	assert.Equal(t, audit.ActionSubmit, submitted.Action)
	assert.Equal(t, f.ID.String(), submitted.EntityID)
	assert.Equal(t, workflow.SourceDocument, submitted.NewValues["source_type"])

	q, err := sys.GetQueue(ctx, approvals.QueueRequest{}, plainUser)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Summary.Pending)
}

// creates records every CreateCommand the engine hands to the store.
type creates struct {
	facts.Store
	cmds []facts.CreateCommand
}

func (c *creates) Create(ctx context.Context, cmd facts.CreateCommand) (*facts.Fact, error) {
	c.cmds = append(c.cmds, cmd)
	return c.Store.Create(ctx, cmd)
}

func TestSubmitStampsExtractedAt(t *testing.T) {
	ctx := context.Background()
	store := &creates{Store: memory.New()}
	sys := newEngine(t, store)

	_, err := sys.Submit(ctx, approvals.SubmitRequest{
		Type:       workflow.FactTypeMetric,
		Content:    "Backlog reduced by 12 percent",
		Confidence: ptr(0.6),
	}, plainUser)
	require.NoError(t, err)

	explicit := epoch.Add(-48 * time.Hour)
	_, err = sys.Submit(ctx, approvals.SubmitRequest{
		Type:        workflow.FactTypeMetric,
		Content:     "Backlog reduced by 15 percent",
		Confidence:  ptr(0.6),
		ExtractedAt: &explicit,
	}, plainUser)
	require.NoError(t, err)

	require.Len(t, store.cmds, 2)
	assert.Equal(t, epoch, store.cmds[0].ExtractedAt, "omitted extraction time takes the engine clock")
	assert.Equal(t, explicit, store.cmds[1].ExtractedAt)
}

func TestSubmitValidation(t *testing.T) {
	secret := workflow.Secret
	doc := uuid.New()
	comm := uuid.New()

	valid := func() approvals.SubmitRequest {
		return approvals.SubmitRequest{
			Type:       workflow.FactTypeEntity,
			Content:    "Falcon program office relocated",
			Confidence: ptr(0.5),
		}
	}

	tests := []struct {
		name   string
		mutate func(*approvals.SubmitRequest)
		kind   error
		reason string
	}{
		{
			name:   "fact type",
			mutate: func(r *approvals.SubmitRequest) { r.Type = "rumor" },
			kind:   approvals.ErrInvalidRequest,
		},
		{
			name:   "content",
			mutate: func(r *approvals.SubmitRequest) { r.Content = "   " },
			kind:   approvals.ErrInvalidRequest,
			reason: "Content is required",
		},
		{
			name:   "missing confidence",
			mutate: func(r *approvals.SubmitRequest) { r.Confidence = nil },
			kind:   approvals.ErrInvalidRequest,
			reason: "Confidence must be between 0 and 1",
		},
		{
			name:   "confidence range",
			mutate: func(r *approvals.SubmitRequest) { r.Confidence = ptr(1.01) },
			kind:   approvals.ErrInvalidRequest,
			reason: "Confidence must be between 0 and 1",
		},
		{
			name: "both sources",
			mutate: func(r *approvals.SubmitRequest) {
				r.DocumentID = &doc
				r.CommunicationID = &comm
			},
			kind: approvals.ErrInvalidRequest,
		},
		{
			name:   "classification above clearance",
			mutate: func(r *approvals.SubmitRequest) { r.Classification = &secret },
			kind:   approvals.ErrForbidden,
		},
		{
			name:   "unknown communication",
			mutate: func(r *approvals.SubmitRequest) { r.CommunicationID = &comm },
			kind:   approvals.ErrNotFound,
			reason: "Source communication " + comm.String() + " not found",
		},
	}

	fx := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			_, err := fx.sys.Submit(context.Background(), req, plainUser)
			require.ErrorIs(t, err, tt.kind)
			if tt.reason != "" {
				assert.EqualError(t, err, tt.reason)
			}
		})
	}
	assert.Empty(t, fx.audit.actions())
}

func TestSubmitRequestDecoding(t *testing.T) {
	var req approvals.SubmitRequest
	err := json.Unmarshal([]byte(`{
		"fact_type": "risk",
		"content": "Supplier exposure",
		"confidence": 0.4,
		"classification": "TOP SECRET",
		"metadata": {"uncertain": true, "origin": "ocr"}
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, workflow.FactTypeRisk, req.Type)
	require.NotNil(t, req.Classification)
	assert.Equal(t, workflow.TopSecret, *req.Classification)
	assert.True(t, req.Metadata.Uncertain)
	assert.Equal(t, "ocr", req.Metadata.Extra["origin"])

	err = json.Unmarshal([]byte(`{"fact_type": "risk", "classification": "cosmic"}`), &req)
	assert.Error(t, err)
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fact := fx.put(workflow.StatusPending, 0.5)

	err := fx.sys.Deactivate(ctx, fact.ID, plainUser)
	require.ErrorIs(t, err, approvals.ErrForbidden)
	assert.EqualError(t, err,
		"Insufficient permissions to deactivate facts. Requires knowledge_manager or admin role.")

	require.NoError(t, fx.sys.Deactivate(ctx, fact.ID, knowledgeManager))
	assert.False(t, fx.find(t, fact.ID).IsActive)
	assert.Equal(t, audit.ActionDeactivate, fx.audit.last().Action)

	_, err = fx.sys.Find(ctx, fact.ID, knowledgeManager)
	assert.ErrorIs(t, err, approvals.ErrNotFound)

	err = fx.sys.Deactivate(ctx, fact.ID, knowledgeManager)
	assert.ErrorIs(t, err, approvals.ErrNotFound)

	q, err := fx.sys.GetQueue(ctx, approvals.QueueRequest{}, knowledgeManager)
	require.NoError(t, err)
	assert.Empty(t, q.Data)
	assert.Zero(t, q.Summary.Pending)
}
