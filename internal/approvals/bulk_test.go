package approvals_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/internal/approvals"
	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/workflow"
)

func TestBulkApplyPartialFailure(t *testing.T) {
	fx := newFixture(t)
	first := fx.put(workflow.StatusUnderReview, 0.6)
	second := fx.put(workflow.StatusUnderReview, 0.7)
	missing := uuid.New()

	result, err := fx.sys.BulkApply(context.Background(), approvals.BulkRequest{
		FactIDs: []uuid.UUID{first.ID, missing, second.ID},
		Action:  workflow.ActionApprove,
	}, knowledgeManager)
	require.NoError(t, err)

	assert.Equal(t, approvals.BulkSummary{Total: 3, Successful: 2, Failed: 1}, result.Summary)
	assert.Equal(t, []approvals.BulkSuccess{
		{FactID: first.ID, Status: workflow.StatusApproved},
		{FactID: second.ID, Status: workflow.StatusApproved},
	}, result.Successful)
	assert.Equal(t, []approvals.BulkFailure{
		{FactID: missing, Error: "Fact not found"},
	}, result.Failed)

	assert.Equal(t, []audit.Action{
		audit.ActionApprove,
		audit.ActionApprove,
		audit.ActionBulkApprove,
	}, fx.audit.actions())

	batch := fx.audit.last()
	assert.Equal(t, audit.EntityBatch, batch.EntityType)
	assert.Equal(t, []uuid.UUID{first.ID, missing, second.ID}, batch.NewValues["fact_ids"])
	assert.Equal(t, result.Summary, batch.NewValues["summary"])
}

func TestBulkApplyIsolatesItemErrors(t *testing.T) {
	fx := newFixture(t)
	pending := fx.put(workflow.StatusPending, 0.6)
	review := fx.put(workflow.StatusUnderReview, 0.6)
	hidden := fx.put(workflow.StatusUnderReview, 0.6, classified(workflow.TopSecret))

	reviewer := knowledgeManager
	reviewer.Clearance = workflow.Secret

	result, err := fx.sys.BulkApply(context.Background(), approvals.BulkRequest{
		FactIDs:  []uuid.UUID{pending.ID, hidden.ID, review.ID},
		Action:   workflow.ActionReject,
		Comments: ptr("out of scope"),
	}, reviewer)
	require.NoError(t, err)

	assert.Equal(t, approvals.BulkSummary{Total: 3, Successful: 1, Failed: 2}, result.Summary)
	assert.Equal(t, []approvals.BulkFailure{
		{FactID: pending.ID, Error: "Transition from pending to rejected is not allowed"},
		{FactID: hidden.ID, Error: "Insufficient clearance to access this fact"},
	}, result.Failed)
	require.Len(t, result.Successful, 1)
	assert.Equal(t, review.ID, result.Successful[0].FactID)
	assert.Equal(t, workflow.StatusRejected, result.Successful[0].Status)
	assert.Equal(t, audit.ActionBulkReject, fx.audit.last().Action)
}

func TestBulkApplyRejectsBatch(t *testing.T) {
	fx := newFixture(t)
	fact := fx.put(workflow.StatusUnderReview, 0.6)

	oversized := make([]uuid.UUID, 101)
	for i := range oversized {
		oversized[i] = uuid.New()
	}

	tests := []struct {
		name   string
		req    approvals.BulkRequest
		caller workflow.Caller
		kind   error
	}{
		{
			name:   "empty",
			req:    approvals.BulkRequest{Action: workflow.ActionApprove},
			caller: knowledgeManager,
			kind:   approvals.ErrInvalidRequest,
		},
		{
			name:   "oversized",
			req:    approvals.BulkRequest{FactIDs: oversized, Action: workflow.ActionApprove},
			caller: knowledgeManager,
			kind:   approvals.ErrInvalidRequest,
		},
		{
			name:   "duplicates",
			req:    approvals.BulkRequest{FactIDs: []uuid.UUID{fact.ID, fact.ID}, Action: workflow.ActionApprove},
			caller: knowledgeManager,
			kind:   approvals.ErrInvalidRequest,
		},
		{
			name:   "unknown action",
			req:    approvals.BulkRequest{FactIDs: []uuid.UUID{fact.ID}, Action: "archive"},
			caller: knowledgeManager,
			kind:   approvals.ErrInvalidRequest,
		},
		{
			name:   "role",
			req:    approvals.BulkRequest{FactIDs: []uuid.UUID{fact.ID}, Action: workflow.ActionApprove},
			caller: plainUser,
			kind:   approvals.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.sys.BulkApply(context.Background(), tt.req, tt.caller)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	assert.Equal(t, workflow.StatusUnderReview, fx.find(t, fact.ID).Status)
	assert.Empty(t, fx.audit.actions())
}
