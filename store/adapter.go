package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/collect"
	"github.com/openassist/actionflow/engine/executor"
	"github.com/openassist/actionflow/engine/plan"
)

// SessionStore adapts the store to the collector's persistence contract.
type SessionStore struct {
	store *Store
}

// NewSessionStore wraps the store as a collect.SessionStore.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

var _ collect.SessionStore = (*SessionStore)(nil)

// Get loads a collection session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*collect.Session, bool, error) {
	record, err := s.store.GetParamSession(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "get param session")
	}
	if record == nil {
		return nil, false, nil
	}
	return &collect.Session{
		ID:            record.ID,
		UserID:        record.UserID,
		ActionID:      record.ActionID,
		ActionName:    record.ActionName,
		State:         collect.State(record.State),
		Collected:     record.Collected,
		Missing:       record.Missing,
		NextQuestion:  record.NextQuestion,
		AwaitingInput: record.AwaitingInput,
		CreatedAt:     time.Unix(record.CreatedTs, 0),
		UpdatedAt:     time.Unix(record.UpdatedTs, 0),
	}, true, nil
}

// Save upserts a collection session.
func (s *SessionStore) Save(ctx context.Context, session *collect.Session) error {
	now := time.Now()
	session.UpdatedAt = now
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}
	record := &ParamSession{
		ID:            session.ID,
		UserID:        session.UserID,
		ActionID:      session.ActionID,
		ActionName:    session.ActionName,
		State:         string(session.State),
		Collected:     session.Collected,
		Missing:       session.Missing,
		NextQuestion:  session.NextQuestion,
		AwaitingInput: session.AwaitingInput,
		CreatedTs:     created.Unix(),
		UpdatedTs:     now.Unix(),
	}
	if err := s.store.UpsertParamSession(ctx, record); err != nil {
		return errors.Wrap(err, "upsert param session")
	}
	return nil
}

// Close deletes a collection session. Unknown ids are a no-op.
func (s *SessionStore) Close(ctx context.Context, id string) error {
	if err := s.store.DeleteParamSession(ctx, id); err != nil {
		return errors.Wrap(err, "delete param session")
	}
	return nil
}

// PlanStore adapts the store to the executor's persistence contract. Plans
// are serialized whole into the record payload; the indexed columns are
// projections for lookup and cleanup.
type PlanStore struct {
	store *Store
}

// NewPlanStore wraps the store as an executor plan store.
func NewPlanStore(store *Store) *PlanStore {
	return &PlanStore{store: store}
}

var _ executor.PlanStore = (*PlanStore)(nil)

// GetPlan loads and deserializes a plan by id.
func (s *PlanStore) GetPlan(ctx context.Context, id string) (*plan.Plan, bool, error) {
	record, err := s.store.GetPlanRecord(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "get plan record")
	}
	if record == nil {
		return nil, false, nil
	}
	var p plan.Plan
	if err := json.Unmarshal(record.Payload, &p); err != nil {
		return nil, false, errors.Wrapf(err, "decode plan %s", id)
	}
	return &p, true, nil
}

// UpsertPlan serializes and stores a plan.
func (s *PlanStore) UpsertPlan(ctx context.Context, p *plan.Plan) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "encode plan %s", p.ID)
	}
	record := &PlanRecord{
		ID:        p.ID,
		ActionID:  p.ActionID,
		SessionID: p.SessionID,
		Status:    string(p.Status()),
		Payload:   payload,
		CreatedTs: p.CreatedAt.Unix(),
		UpdatedTs: time.Now().Unix(),
	}
	if !p.ExpireAt.IsZero() {
		record.ExpireTs = p.ExpireAt.Unix()
	}
	if err := s.store.UpsertPlanRecord(ctx, record); err != nil {
		return errors.Wrap(err, "upsert plan record")
	}
	return nil
}

// DeletePlan removes a plan record.
func (s *PlanStore) DeletePlan(ctx context.Context, id string) error {
	if err := s.store.DeletePlanRecord(ctx, id); err != nil {
		return errors.Wrap(err, "delete plan record")
	}
	return nil
}

// SaveActionDefinition persists an action definition as JSON.
func (s *Store) SaveActionDefinition(ctx context.Context, action *catalog.ActionDefinition) error {
	definition, err := json.Marshal(action)
	if err != nil {
		return errors.Wrapf(err, "encode action %s", action.ID)
	}
	record := &ActionRecord{
		ID:         action.ID,
		Name:       action.Name,
		Definition: definition,
		Enabled:    action.Enabled,
		UpdatedTs:  time.Now().Unix(),
	}
	return s.UpsertActionRecord(ctx, record)
}

// LoadActionDefinitions decodes every stored action definition. Disabled
// actions are included; the catalog filters them at match time.
func (s *Store) LoadActionDefinitions(ctx context.Context) ([]*catalog.ActionDefinition, error) {
	records, err := s.ListActionRecords(ctx, &FindActionRecord{})
	if err != nil {
		return nil, errors.Wrap(err, "list action records")
	}
	actions := make([]*catalog.ActionDefinition, 0, len(records))
	for _, record := range records {
		var action catalog.ActionDefinition
		if err := json.Unmarshal(record.Definition, &action); err != nil {
			return nil, errors.Wrapf(err, "decode action %s", record.ID)
		}
		actions = append(actions, &action)
	}
	return actions, nil
}
