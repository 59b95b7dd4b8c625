// Package store provides database access to the engine's durable records:
// parameter collection sessions, execution plans, action definitions and
// action embeddings.
package store

import (
	"context"
	"database/sql"
)

// Driver is the database abstraction implemented per backend.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Parameter collection sessions
	GetParamSession(ctx context.Context, id string) (*ParamSession, error)
	UpsertParamSession(ctx context.Context, session *ParamSession) error
	DeleteParamSession(ctx context.Context, id string) error

	// Execution plans
	GetPlanRecord(ctx context.Context, id string) (*PlanRecord, error)
	UpsertPlanRecord(ctx context.Context, record *PlanRecord) error
	DeletePlanRecord(ctx context.Context, id string) error

	// Action definitions
	ListActionRecords(ctx context.Context, find *FindActionRecord) ([]*ActionRecord, error)
	UpsertActionRecord(ctx context.Context, record *ActionRecord) error
	DeleteActionRecord(ctx context.Context, id string) error

	// Action embeddings (vector search; postgres only)
	UpsertActionEmbedding(ctx context.Context, embedding *ActionEmbedding) error
	SearchActionEmbeddings(ctx context.Context, vector []float32, model string, limit int) ([]*ActionDistance, error)
}

// Store provides access to all raw objects through the configured driver.
type Store struct {
	driver Driver
}

// New creates a new Store instance.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// GetDriver exposes the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) GetParamSession(ctx context.Context, id string) (*ParamSession, error) {
	return s.driver.GetParamSession(ctx, id)
}

func (s *Store) UpsertParamSession(ctx context.Context, session *ParamSession) error {
	return s.driver.UpsertParamSession(ctx, session)
}

func (s *Store) DeleteParamSession(ctx context.Context, id string) error {
	return s.driver.DeleteParamSession(ctx, id)
}

func (s *Store) GetPlanRecord(ctx context.Context, id string) (*PlanRecord, error) {
	return s.driver.GetPlanRecord(ctx, id)
}

func (s *Store) UpsertPlanRecord(ctx context.Context, record *PlanRecord) error {
	return s.driver.UpsertPlanRecord(ctx, record)
}

func (s *Store) DeletePlanRecord(ctx context.Context, id string) error {
	return s.driver.DeletePlanRecord(ctx, id)
}

func (s *Store) ListActionRecords(ctx context.Context, find *FindActionRecord) ([]*ActionRecord, error) {
	return s.driver.ListActionRecords(ctx, find)
}

func (s *Store) UpsertActionRecord(ctx context.Context, record *ActionRecord) error {
	return s.driver.UpsertActionRecord(ctx, record)
}

func (s *Store) DeleteActionRecord(ctx context.Context, id string) error {
	return s.driver.DeleteActionRecord(ctx, id)
}

func (s *Store) UpsertActionEmbedding(ctx context.Context, embedding *ActionEmbedding) error {
	return s.driver.UpsertActionEmbedding(ctx, embedding)
}

func (s *Store) SearchActionEmbeddings(ctx context.Context, vector []float32, model string, limit int) ([]*ActionDistance, error) {
	return s.driver.SearchActionEmbeddings(ctx, vector, model, limit)
}
