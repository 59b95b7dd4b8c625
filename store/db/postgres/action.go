package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/openassist/actionflow/store"
)

// UpsertActionRecord inserts or updates an action definition record.
func (d *DB) UpsertActionRecord(ctx context.Context, record *store.ActionRecord) error {
	stmt := `
		INSERT INTO action (id, name, definition, enabled, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			enabled = EXCLUDED.enabled,
			updated_ts = EXCLUDED.updated_ts
	`
	_, err := d.db.ExecContext(ctx, stmt,
		record.ID,
		record.Name,
		record.Definition,
		record.Enabled,
		record.UpdatedTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert action record")
	}
	return nil
}

// ListActionRecords lists action records matching the filter.
func (d *DB) ListActionRecords(ctx context.Context, find *store.FindActionRecord) ([]*store.ActionRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find != nil && find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find != nil && find.Enabled != nil {
		where, args = append(where, "enabled = "+placeholder(len(args)+1)), append(args, *find.Enabled)
	}

	query := `
		SELECT id, name, definition, enabled, updated_ts
		FROM action
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name ASC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list action records")
	}
	defer rows.Close()

	records := []*store.ActionRecord{}
	for rows.Next() {
		var record store.ActionRecord
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Definition,
			&record.Enabled,
			&record.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan action record")
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate action records")
	}
	return records, nil
}

// DeleteActionRecord removes an action record. Unknown ids are a no-op.
func (d *DB) DeleteActionRecord(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM action WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "failed to delete action record")
	}
	return nil
}
