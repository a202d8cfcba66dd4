package facts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/pkg/query"
	"github.com/JaimeStill/arbiter/pkg/repository"
	"github.com/JaimeStill/arbiter/workflow"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a PostgreSQL-backed Store.
func New(db *sql.DB, logger *slog.Logger) Store {
	return &repo{
		db:     db,
		logger: logger.With("system", "facts"),
	}
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Fact, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	f, err := repository.QueryOne(ctx, r.db, q, args, scanFact)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, q Query) ([]Fact, int, error) {
	sort := q.Sort
	if len(sort) == 0 {
		sort = DefaultSort
	}

	qb := query.NewBuilder(projection).OrderByFields(slices.Concat(sort, []query.SortField{tieBreak}))
	q.Filters.Apply(qb)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count facts: %w", err)
	}

	pageSQL, pageArgs := qb.BuildWindow(q.Limit, q.Offset)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanFact)
	if err != nil {
		return nil, 0, fmt.Errorf("query facts: %w", err)
	}

	return items, total, nil
}

func (r *repo) Summary(ctx context.Context) (Summary, error) {
	const q = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'under_review'),
			COUNT(*) FILTER (WHERE status = 'needs_review'),
			COALESCE(AVG(confidence) FILTER (WHERE status IN ('pending', 'under_review')), 0)
		FROM public.facts
		WHERE is_active`

	var s Summary
	err := r.db.QueryRowContext(ctx, q).Scan(
		&s.Pending,
		&s.UnderReview,
		&s.NeedsReview,
		&s.AverageConfidence,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize facts: %w", err)
	}
	return s, nil
}

func (r *repo) Related(ctx context.Context, f *Fact, limit int) ([]Fact, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE f.is_active
			AND f.id <> $1
			AND (
				f.fact_type = $2
				OR (f.document_id IS NOT NULL AND f.document_id = $3)
				OR (f.communication_id IS NOT NULL AND f.communication_id = $4)
			)
		ORDER BY f.confidence DESC, f.created_at DESC, f.id
		LIMIT %d`,
		projection.Columns(), projection.From(), limit,
	)

	args := []any{f.ID, f.Type, f.DocumentID, f.CommunicationID}
	items, err := repository.QueryMany(ctx, r.db, q, args, scanFact)
	if err != nil {
		return nil, fmt.Errorf("query related facts: %w", err)
	}
	return items, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Fact, error) {
	q := fmt.Sprintf(`
		INSERT INTO public.facts AS f (
			id, fact_type, content, summary, confidence, metadata,
			document_id, communication_id, classification, submitted_by, extracted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
		RETURNING %s`, projection.Columns())

	var extractedAt *time.Time
	if !cmd.ExtractedAt.IsZero() {
		extractedAt = &cmd.ExtractedAt
	}

	args := []any{
		uuid.New(),
		cmd.Type,
		cmd.Content,
		cmd.Summary,
		cmd.Confidence,
		cmd.Metadata,
		cmd.DocumentID,
		cmd.CommunicationID,
		cmd.Classification,
		cmd.SubmittedBy,
		extractedAt,
	}

	f, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Fact, error) {
		return repository.QueryOne(ctx, tx, q, args, scanFact)
	})
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, ErrSourceNotFound
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("fact created", "id", f.ID, "type", f.Type, "submitted_by", f.SubmittedBy)
	return &f, nil
}

func (r *repo) Update(ctx context.Context, u Update) (*Fact, error) {
	q := fmt.Sprintf(`
		UPDATE public.facts f SET
			status = $4,
			approved_by = $5,
			approved_at = $6,
			rejection_reason = $7,
			reviewed_by = $8,
			reviewed_at = $9,
			approval_comments = $10,
			updated_at = $11,
			version = f.version + 1
		WHERE f.id = $1 AND f.status = $2 AND f.version = $3 AND f.is_active
		RETURNING %s`, projection.Columns())

	args := []any{
		u.ID,
		u.From,
		u.Version,
		u.To,
		u.ApprovedBy,
		u.ApprovedAt,
		u.RejectionReason,
		u.ReviewedBy,
		u.ReviewedAt,
		u.ApprovalComments,
		u.At,
	}

	f, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Fact, error) {
		return repository.QueryOne(ctx, tx, q, args, scanFact)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrStale, ErrDuplicate)
	}

	r.logger.Debug("fact updated", "id", f.ID, "from", u.From, "to", f.Status, "version", f.Version)
	return &f, nil
}

func (r *repo) Deactivate(ctx context.Context, id uuid.UUID, version int) (*Fact, error) {
	q := fmt.Sprintf(`
		UPDATE public.facts f SET
			is_active = false,
			updated_at = now(),
			version = f.version + 1
		WHERE f.id = $1 AND f.version = $2 AND f.is_active
		RETURNING %s`, projection.Columns())

	f, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Fact, error) {
		return repository.QueryOne(ctx, tx, q, []any{id, version}, scanFact)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrStale, ErrDuplicate)
	}

	r.logger.Info("fact deactivated", "id", id)
	return &f, nil
}

func (r *repo) SourceExists(ctx context.Context, kind workflow.SourceType, id uuid.UUID) (bool, error) {
	var table string
	switch kind {
	case workflow.SourceDocument:
		table = "public.documents"
	case workflow.SourceCommunication:
		table = "public.communications"
	default:
		return false, fmt.Errorf("%w: %q", workflow.ErrInvalidSourceType, kind)
	}

	var exists bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s source: %w", kind, err)
	}
	return exists, nil
}
