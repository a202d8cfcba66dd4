package approvals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/audit"
	"github.com/JaimeStill/arbiter/internal/facts"
	"github.com/JaimeStill/arbiter/workflow"
)

// CurationRoles may soft-delete facts.
var CurationRoles = workflow.Roles{workflow.RoleKnowledgeManager, workflow.RoleAdmin}

func (e *engine) Submit(ctx context.Context, req SubmitRequest, caller workflow.Caller) (*facts.Fact, error) {
	f, err := e.submit(ctx, req, caller)
	if err != nil {
		return nil, e.fail(ctx, "submit", err)
	}
	return f, nil
}

func (e *engine) submit(ctx context.Context, req SubmitRequest, caller workflow.Caller) (*facts.Fact, error) {
	if err := validateSubmission(req, caller); err != nil {
		return nil, err
	}

	if err := e.checkSource(ctx, req); err != nil {
		return nil, err
	}

	cmd := facts.CreateCommand{
		Type:            req.Type,
		Content:         strings.TrimSpace(req.Content),
		Summary:         trimmed(req.Summary),
		Confidence:      *req.Confidence,
		Metadata:        req.Metadata,
		DocumentID:      req.DocumentID,
		CommunicationID: req.CommunicationID,
		Classification:  req.Classification,
		SubmittedBy:     caller.UserID,
	}
	if req.ExtractedAt != nil {
		cmd.ExtractedAt = req.ExtractedAt.UTC()
	} else {
		cmd.ExtractedAt = e.now().UTC()
	}

	f, err := e.store.Create(ctx, cmd)
	if err != nil {
		if errors.Is(err, facts.ErrSourceNotFound) {
			kind, id := source(req)
			return nil, reasoned(ErrNotFound, reasonSourceNotFound, kind, id)
		}
		return nil, fmt.Errorf("create fact: %w", err)
	}
	e.invalidateSummary()

	e.logger.Info("fact submitted",
		"fact_id", f.ID,
		"fact_type", f.Type,
		"user_id", caller.UserID,
	)

	e.record(ctx, audit.Record{
		UserID:     caller.UserID,
		Action:     audit.ActionSubmit,
		EntityType: audit.EntityFact,
		EntityID:   f.ID.String(),
		NewValues: map[string]any{
			"status":      f.Status,
			"fact_type":   f.Type,
			"confidence":  f.Confidence,
			"source_type": f.SourceType(),
		},
		At: f.CreatedAt,
	})

	return f, nil
}

func validateSubmission(req SubmitRequest, caller workflow.Caller) error {
	if _, err := workflow.ParseFactType(string(req.Type)); err != nil {
		return reasoned(ErrInvalidRequest, "Invalid fact_type %q", req.Type)
	}
	if strings.TrimSpace(req.Content) == "" {
		return reasoned(ErrInvalidRequest, "Content is required")
	}
	if req.Confidence == nil || !workflow.ValidConfidence(*req.Confidence) {
		return reasoned(ErrInvalidRequest, "Confidence must be between 0 and 1")
	}
	if req.DocumentID != nil && req.CommunicationID != nil {
		return reasoned(ErrInvalidRequest, "A fact may reference a document or a communication, not both")
	}
	if req.Classification != nil && !workflow.CanView(req.Classification, caller.Clearance) {
		return reasoned(ErrForbidden, "Cannot submit a fact classified above your clearance")
	}
	return nil
}

func (e *engine) checkSource(ctx context.Context, req SubmitRequest) error {
	kind, id := source(req)
	if kind == workflow.SourceNone {
		return nil
	}

	ok, err := e.store.SourceExists(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("check source: %w", err)
	}
	if !ok {
		return reasoned(ErrNotFound, reasonSourceNotFound, kind, id)
	}
	return nil
}

func source(req SubmitRequest) (workflow.SourceType, uuid.UUID) {
	switch {
	case req.DocumentID != nil:
		return workflow.SourceDocument, *req.DocumentID
	case req.CommunicationID != nil:
		return workflow.SourceCommunication, *req.CommunicationID
	}
	return workflow.SourceNone, uuid.Nil
}

func (e *engine) Deactivate(ctx context.Context, id uuid.UUID, caller workflow.Caller) error {
	if err := e.deactivate(ctx, id, caller); err != nil {
		return e.fail(ctx, "deactivate", err)
	}
	return nil
}

func (e *engine) deactivate(ctx context.Context, id uuid.UUID, caller workflow.Caller) error {
	if !caller.Roles.Intersects(CurationRoles) {
		return reasoned(ErrForbidden,
			"Insufficient permissions to deactivate facts. Requires %s role.",
			CurationRoles.Describe(),
		)
	}

	f, err := e.load(ctx, id, caller)
	if err != nil {
		return err
	}

	updated, err := e.store.Deactivate(ctx, f.ID, f.Version)
	if err != nil {
		if errors.Is(err, facts.ErrStale) {
			return reasoned(ErrConflict, reasonConflict)
		}
		return fmt.Errorf("deactivate fact: %w", err)
	}
	e.invalidateSummary()

	e.logger.Info("fact deactivated", "fact_id", f.ID, "user_id", caller.UserID)

	e.record(ctx, audit.Record{
		UserID:     caller.UserID,
		Action:     audit.ActionDeactivate,
		EntityType: audit.EntityFact,
		EntityID:   f.ID.String(),
		OldValues:  map[string]any{"is_active": true, "status": f.Status},
		NewValues:  map[string]any{"is_active": false},
		At:         updated.UpdatedAt,
	})

	return nil
}
