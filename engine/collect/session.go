// Package collect implements multi-turn slot filling: a suspended-plan
// variant that gathers an action's missing required parameters across
// conversation turns.
package collect

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a collection session.
type State string

const (
	// StateCollecting asks for one missing field at a time.
	StateCollecting State = "COLLECTING"
	// StatePendingConfirm awaits a final go-ahead before execution
	// (configuration-gated).
	StatePendingConfirm State = "PENDING_CONFIRM"
	// StateConfirmed is the transient state after a positive confirmation.
	StateConfirmed State = "CONFIRMED"
	// StateCompleted means all parameters are collected and handed off.
	StateCompleted State = "COMPLETED"
	// StateCancelled means the user abandoned the session.
	StateCancelled State = "CANCELLED"
)

// Session is a long-lived, turn-spanning slot-filling record. It must be
// retrievable by id from the store so independent request cycles can resume
// it.
type Session struct {
	ID         string `json:"id"`
	UserID     int32  `json:"user_id,omitempty"`
	ActionID   string `json:"action_id"`
	ActionName string `json:"action_name,omitempty"`

	State State `json:"state"`

	// Collected holds the parameter values gathered so far.
	Collected map[string]any `json:"collected,omitempty"`
	// Missing lists the outstanding required parameter names, in declared
	// order.
	Missing []string `json:"missing,omitempty"`

	NextQuestion  string `json:"next_question,omitempty"`
	AwaitingInput bool   `json:"awaiting_input"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore is the pluggable persistence contract for collection
// sessions. Implementations must be safe for use from multiple processes
// sharing one session id; concurrent resumption of the same id is undefined
// behavior unless the store adds version checks.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Save(ctx context.Context, session *Session) error
	Close(ctx context.Context, id string) error
}

// MemorySessionStore is the in-process SessionStore used for tests and
// single-node deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Get returns the session with the given id.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok, nil
}

// Save stores or replaces a session.
func (s *MemorySessionStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = session
	return nil
}

// Close removes a session. Unknown ids are a no-op.
func (s *MemorySessionStore) Close(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
