package approvals

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/workflow"
)

func (e *engine) BulkApply(ctx context.Context, req BulkRequest, caller workflow.Caller) (*BulkResult, error) {
	if err := e.validateBatch(req.FactIDs); err != nil {
		return nil, e.fail(ctx, "bulk", err)
	}
	if err := e.authorizeDecision(req.Action, caller); err != nil {
		return nil, e.fail(ctx, "bulk", err)
	}

	e.metrics.bulk(ctx, req.Action, len(req.FactIDs))

	result := &BulkResult{
		Successful: make([]BulkSuccess, 0, len(req.FactIDs)),
		Failed:     make([]BulkFailure, 0),
	}

	d := Decision{Action: req.Action, Comments: req.Comments, Reason: req.Reason}

	for _, id := range req.FactIDs {
		f, err := e.decide(ctx, id, d, caller)
		if err != nil {
			e.metrics.failure(ctx, "bulk_item", err)
			if category(err) == "internal" {
				e.logger.Error("bulk item failed", "fact_id", id, "error", err)
			}
			result.Failed = append(result.Failed, BulkFailure{
				FactID: id,
				Error:  itemError(err),
			})
			continue
		}
		result.Successful = append(result.Successful, BulkSuccess{
			FactID: id,
			Status: f.Status,
		})
	}

	result.Summary = BulkSummary{
		Total:      len(req.FactIDs),
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
	}

	e.logger.Info("bulk decision applied",
		"action", req.Action,
		"user_id", caller.UserID,
		"total", result.Summary.Total,
		"successful", result.Summary.Successful,
		"failed", result.Summary.Failed,
	)

	action := audit.ActionBulkApprove
	if req.Action == workflow.ActionReject {
		action = audit.ActionBulkReject
	}
	e.record(ctx, audit.Record{
		UserID:     caller.UserID,
		Action:     action,
		EntityType: audit.EntityBatch,
		NewValues: map[string]any{
			"fact_ids": req.FactIDs,
			"summary":  result.Summary,
		},
	})

	return result, nil
}

func (e *engine) validateBatch(ids []uuid.UUID) error {
	if len(ids) == 0 || len(ids) > e.cfg.MaxBatchSize {
		return reasoned(ErrInvalidRequest,
			"fact_ids must contain between 1 and %d ids", e.cfg.MaxBatchSize,
		)
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return reasoned(ErrInvalidRequest, "Duplicate fact id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// itemError renders a per-item failure. Categorized errors carry their
// reason; anything else is reported generically.
func itemError(err error) string {
	var reasonedErr *Error
	if errors.As(err, &reasonedErr) {
		return reasonedErr.Reason
	}
	return "Internal error"
}
