package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/arbiter/pkg/storage"
)

// NewDatabaseSink writes records to public.audit_logs. Inserts are keyed on
// the record ID so a retried delivery never produces a duplicate row.
func NewDatabaseSink(db *sql.DB) Sink {
	return SinkFunc(func(ctx context.Context, r Record) error {
		oldValues, err := jsonb(r.OldValues)
		if err != nil {
			return fmt.Errorf("marshal old values: %w", err)
		}
		newValues, err := jsonb(r.NewValues)
		if err != nil {
			return fmt.Errorf("marshal new values: %w", err)
		}

		const q = `
			INSERT INTO public.audit_logs
				(id, user_id, action, entity_type, entity_id, old_values, new_values, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`

		_, err = db.ExecContext(ctx, q,
			r.ID, r.UserID, string(r.Action), r.EntityType, r.EntityID,
			oldValues, newValues, r.At,
		)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	})
}

// NewBlobSink archives each record as a JSON blob under <prefix>/<yyyy>/<mm>/<dd>/<id>.json.
// Records already archived are skipped.
func NewBlobSink(store storage.System) Sink {
	return SinkFunc(func(ctx context.Context, r Record) error {
		key := BlobKey(store, r)

		exists, err := store.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return store.Upload(ctx, key, bytes.NewReader(data), "application/json")
	})
}

// BlobKey returns the archive key for r.
func BlobKey(store storage.System, r Record) string {
	return store.Key(r.At.UTC().Format("2006/01/02"), r.ID.String()+".json")
}

// NewLogSink writes each record to logger at Info level.
func NewLogSink(logger *slog.Logger) Sink {
	logger = logger.With("sink", "log")
	return SinkFunc(func(ctx context.Context, r Record) error {
		logger.InfoContext(ctx, "audit",
			"id", r.ID,
			"user_id", r.UserID,
			"action", r.Action,
			"entity_type", r.EntityType,
			"entity_id", r.EntityID,
		)
		return nil
	})
}

func jsonb(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
