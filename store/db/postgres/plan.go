package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/openassist/actionflow/store"
)

// UpsertPlanRecord inserts or updates an execution plan record.
func (d *DB) UpsertPlanRecord(ctx context.Context, record *store.PlanRecord) error {
	stmt := `
		INSERT INTO plan (id, action_id, session_id, status, payload, created_ts, updated_ts, expire_ts)
		VALUES (` + placeholders(8) + `)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts,
			expire_ts = EXCLUDED.expire_ts
	`
	_, err := d.db.ExecContext(ctx, stmt,
		record.ID,
		record.ActionID,
		record.SessionID,
		record.Status,
		record.Payload,
		record.CreatedTs,
		record.UpdatedTs,
		record.ExpireTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert plan record")
	}
	return nil
}

// GetPlanRecord returns the plan record with the given id, or sql.ErrNoRows.
func (d *DB) GetPlanRecord(ctx context.Context, id string) (*store.PlanRecord, error) {
	query := `SELECT id, action_id, session_id, status, payload, created_ts, updated_ts, expire_ts
		FROM plan
		WHERE id = ` + placeholder(1)

	var record store.PlanRecord
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.ActionID,
		&record.SessionID,
		&record.Status,
		&record.Payload,
		&record.CreatedTs,
		&record.UpdatedTs,
		&record.ExpireTs,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeletePlanRecord removes a plan record. Unknown ids are a no-op.
func (d *DB) DeletePlanRecord(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM plan WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "failed to delete plan record")
	}
	return nil
}
