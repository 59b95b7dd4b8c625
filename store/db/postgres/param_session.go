package postgres

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/openassist/actionflow/store"
)

// UpsertParamSession inserts or updates a parameter collection session.
func (d *DB) UpsertParamSession(ctx context.Context, session *store.ParamSession) error {
	collected, err := json.Marshal(session.Collected)
	if err != nil {
		return errors.Wrap(err, "failed to encode collected params")
	}
	missing, err := json.Marshal(session.Missing)
	if err != nil {
		return errors.Wrap(err, "failed to encode missing params")
	}

	stmt := `
		INSERT INTO param_session (id, user_id, action_id, action_name, state, collected, missing, next_question, awaiting_input, created_ts, updated_ts)
		VALUES (` + placeholders(11) + `)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			collected = EXCLUDED.collected,
			missing = EXCLUDED.missing,
			next_question = EXCLUDED.next_question,
			awaiting_input = EXCLUDED.awaiting_input,
			updated_ts = EXCLUDED.updated_ts
	`
	_, err = d.db.ExecContext(ctx, stmt,
		session.ID,
		session.UserID,
		session.ActionID,
		session.ActionName,
		session.State,
		collected,
		missing,
		session.NextQuestion,
		session.AwaitingInput,
		session.CreatedTs,
		session.UpdatedTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert param session")
	}
	return nil
}

// GetParamSession returns the session with the given id, or sql.ErrNoRows.
func (d *DB) GetParamSession(ctx context.Context, id string) (*store.ParamSession, error) {
	query := `SELECT id, user_id, action_id, action_name, state, collected, missing, next_question, awaiting_input, created_ts, updated_ts
		FROM param_session
		WHERE id = ` + placeholder(1)

	var session store.ParamSession
	var collected, missing []byte
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.ActionID,
		&session.ActionName,
		&session.State,
		&collected,
		&missing,
		&session.NextQuestion,
		&session.AwaitingInput,
		&session.CreatedTs,
		&session.UpdatedTs,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(collected, &session.Collected); err != nil {
		return nil, errors.Wrap(err, "failed to decode collected params")
	}
	if err := json.Unmarshal(missing, &session.Missing); err != nil {
		return nil, errors.Wrap(err, "failed to decode missing params")
	}
	return &session, nil
}

// DeleteParamSession removes a session. Unknown ids are a no-op.
func (d *DB) DeleteParamSession(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM param_session WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "failed to delete param session")
	}
	return nil
}
