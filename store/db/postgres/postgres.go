package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/openassist/actionflow/internal/profile"
	"github.com/openassist/actionflow/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database using the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	postgresDB.SetMaxOpenConns(25)
	postgresDB.SetMaxIdleConns(5)
	postgresDB.SetConnMaxLifetime(30 * time.Minute)

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the schema. The vector extension is required for semantic
// matching; plain CRUD works without it, so a missing extension is only
// logged through the returned error.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS param_session (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL DEFAULT 0,
			action_id TEXT NOT NULL,
			action_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			collected JSONB NOT NULL DEFAULT '{}',
			missing JSONB NOT NULL DEFAULT '[]',
			next_question TEXT NOT NULL DEFAULT '',
			awaiting_input BOOLEAN NOT NULL DEFAULT FALSE,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plan (
			id TEXT PRIMARY KEY,
			action_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			expire_ts BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_session_id ON plan (session_id)`,
		`CREATE TABLE IF NOT EXISTS action (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			definition JSONB NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS action_embedding (
			action_id TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding vector NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (action_id, model)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// placeholder returns the n-th positional parameter, $1-based.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}

var _ store.Driver = (*DB)(nil)
