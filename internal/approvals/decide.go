package approvals

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/workflow"
)

func (e *engine) Decide(ctx context.Context, id uuid.UUID, d Decision, caller workflow.Caller) (*facts.Fact, error) {
	if err := e.authorizeDecision(d.Action, caller); err != nil {
		return nil, e.fail(ctx, "decide", err)
	}

	f, err := e.decide(ctx, id, d, caller)
	if err != nil {
		return nil, e.fail(ctx, "decide", err)
	}
	return f, nil
}

// authorizeDecision is the category gate: only approver-class callers may
// issue approve or reject decisions at all.
func (e *engine) authorizeDecision(action workflow.Action, caller workflow.Caller) error {
	if _, err := workflow.ParseAction(string(action)); err != nil {
		return reasoned(ErrInvalidRequest, "Invalid action %q", action)
	}
	if !caller.Roles.Intersects(workflow.DecisionRoles) {
		return reasoned(ErrForbidden,
			"Insufficient permissions to %s facts. Requires %s role.",
			action, workflow.DecisionRoles.Describe(),
		)
	}
	return nil
}

// decide applies one decision. The category gate must already have passed.
func (e *engine) decide(ctx context.Context, id uuid.UUID, d Decision, caller workflow.Caller) (*facts.Fact, error) {
	f, err := e.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	to := d.Action.Target()
	v := e.rules.Validate(f.Status, to, caller.Roles)
	if !v.Allowed {
		return nil, reasoned(ErrForbidden, "%s", v.Reason)
	}
	if !v.Rule.AutoApproval.Allows(f.Candidate()) {
		return nil, reasoned(ErrForbidden, reasonNotQualified)
	}

	comments := trimmed(d.Comments)
	if v.RequiresComment && comments == nil {
		return nil, reasoned(ErrInvalidRequest, reasonCommentNeeded)
	}

	now := e.now().UTC()
	u := facts.Update{
		ID:               f.ID,
		From:             f.Status,
		Version:          f.Version,
		To:               to,
		ReviewedBy:       f.ReviewedBy,
		ReviewedAt:       f.ReviewedAt,
		ApprovalComments: comments,
		At:               now,
	}

	switch d.Action {
	case workflow.ActionApprove:
		u.ApprovedBy = &caller.UserID
		u.ApprovedAt = &now
	case workflow.ActionReject:
		reason := trimmed(d.Reason)
		if reason == nil {
			reason = comments
		}
		if reason == nil {
			return nil, reasoned(ErrInvalidRequest, reasonReasonNeeded)
		}
		u.RejectionReason = reason
		u.ReviewedBy = &caller.UserID
		u.ReviewedAt = &now
	}

	updated, err := e.write(ctx, u)
	if err != nil {
		return nil, err
	}

	e.metrics.transition(ctx, f.Status, to)
	e.logger.Info("fact decided",
		"fact_id", f.ID,
		"action", d.Action,
		"from", f.Status,
		"to", to,
		"user_id", caller.UserID,
	)

	action := audit.ActionApprove
	if d.Action == workflow.ActionReject {
		action = audit.ActionReject
	}
	e.record(ctx, transitionRecord(action, caller, f, updated, d.Metadata))

	return updated, nil
}

func (e *engine) UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange, caller workflow.Caller) (*facts.Fact, error) {
	switch change.Status {
	case workflow.StatusApproved:
		return e.Decide(ctx, id, Decision{Action: workflow.ActionApprove, Comments: change.Comments}, caller)
	case workflow.StatusRejected:
		return e.Decide(ctx, id, Decision{Action: workflow.ActionReject, Comments: change.Comments}, caller)
	}

	f, err := e.updateStatus(ctx, id, change, caller)
	if err != nil {
		return nil, e.fail(ctx, "update_status", err)
	}
	return f, nil
}

func (e *engine) updateStatus(ctx context.Context, id uuid.UUID, change StatusChange, caller workflow.Caller) (*facts.Fact, error) {
	if !change.Status.Valid() {
		return nil, reasoned(ErrInvalidRequest, "Invalid status %q", change.Status)
	}

	f, err := e.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	v := e.rules.Validate(f.Status, change.Status, caller.Roles)
	if !v.Allowed {
		return nil, reasoned(ErrForbidden, "%s", v.Reason)
	}
	if !v.Rule.AutoApproval.Allows(f.Candidate()) {
		return nil, reasoned(ErrForbidden, reasonNotQualified)
	}

	comments := trimmed(change.Comments)
	if v.RequiresComment && comments == nil {
		return nil, reasoned(ErrInvalidRequest, reasonCommentNeeded)
	}
	if comments == nil {
		comments = f.ApprovalComments
	}

	now := e.now().UTC()

	// Leaving a terminal state clears the previous verdict.
	u := facts.Update{
		ID:               f.ID,
		From:             f.Status,
		Version:          f.Version,
		To:               change.Status,
		ReviewedBy:       f.ReviewedBy,
		ReviewedAt:       f.ReviewedAt,
		ApprovalComments: comments,
		At:               now,
	}
	if change.Status == workflow.StatusUnderReview {
		u.ReviewedBy = &caller.UserID
		u.ReviewedAt = &now
	}

	updated, err := e.write(ctx, u)
	if err != nil {
		return nil, err
	}

	e.metrics.transition(ctx, f.Status, change.Status)
	e.logger.Info("fact status changed",
		"fact_id", f.ID,
		"from", f.Status,
		"to", change.Status,
		"user_id", caller.UserID,
	)
	e.record(ctx, transitionRecord(audit.ActionStatusChange, caller, f, updated, nil))

	return updated, nil
}

func transitionRecord(action audit.Action, caller workflow.Caller, before, after *facts.Fact, extra map[string]any) audit.Record {
	newValues := map[string]any{
		"status":  after.Status,
		"version": after.Version,
	}
	if after.ApprovalComments != nil {
		newValues["comments"] = *after.ApprovalComments
	}
	if after.RejectionReason != nil {
		newValues["rejection_reason"] = *after.RejectionReason
	}
	if len(extra) > 0 {
		newValues["metadata"] = extra
	}

	return audit.Record{
		UserID:     caller.UserID,
		Action:     action,
		EntityType: audit.EntityFact,
		EntityID:   before.ID.String(),
		OldValues: map[string]any{
			"status":  before.Status,
			"version": before.Version,
		},
		NewValues: newValues,
		At:        after.UpdatedAt,
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
