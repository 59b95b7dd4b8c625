// Package plan defines the execution plan produced for a matched action and
// the step graph the executor drives.
package plan

import (
	"sync"
	"time"

	"github.com/openassist/actionflow/engine/catalog"
)

// Status is the overall status of an execution plan.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusWaitingInput Status = "WAITING_INPUT"
	StatusCancelled    Status = "CANCELLED"
)

// IsTerminal reports whether the plan can no longer make progress.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the status of a single step.
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepRunning      StepStatus = "RUNNING"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepSkipped      StepStatus = "SKIPPED"
	StepWaitingInput StepStatus = "WAITING_INPUT"
)

// IsTerminal reports whether the step has reached a final per-step state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Binding is a step input left unresolved at generation time, resolved lazily
// by the executor just before the step runs.
type Binding struct {
	// Name is the input key the resolved value is stored under.
	Name string `json:"name"`
	// Source is either CONTEXT or PREVIOUS_STEP.
	Source catalog.ParamSource `json:"source"`
	// Ref is the producing step's id (PREVIOUS_STEP) or the session
	// variable key (CONTEXT).
	Ref string `json:"ref"`
	// Extract is the dotted-path expression applied to the referenced
	// step's output.
	Extract string `json:"extract,omitempty"`
}

// Step is one unit of work inside a plan.
type Step struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Order int    `json:"order"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// Bindings are inputs deferred until execution time.
	Bindings []Binding `json:"bindings,omitempty"`

	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`

	// Prompt and Options are set when the step suspends for user input.
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`

	ContinueOnFailure bool `json:"continue_on_failure,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Plan is one in-flight run of an action. It is created by the Generator and
// mutated exclusively by the executor. CurrentStep is always a valid index
// into Steps, or len(Steps) once the plan completed.
type Plan struct {
	ID         string `json:"id"`
	ActionID   string `json:"action_id"`
	ActionName string `json:"action_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     int32  `json:"user_id,omitempty"`

	Steps       []*Step `json:"steps"`
	CurrentStep int     `json:"current_step"`

	// Context holds session-scoped variables visible to CONTEXT bindings.
	Context map[string]any `json:"context,omitempty"`
	// StateData is cross-step working memory for step executors.
	StateData map[string]any `json:"state_data,omitempty"`
	// StepOutputs records each step's output keyed by step id, visible to
	// subsequent PREVIOUS_STEP bindings.
	StepOutputs map[string]map[string]any `json:"step_outputs,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpireAt    time.Time  `json:"expire_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// PlanStatus is read and written through Status/SetStatus; the field is
	// exported for serialization only.
	PlanStatus Status `json:"status"`

	mu sync.RWMutex
}

// NewPlan constructs a plan in PENDING state with initialized maps.
func NewPlan(id, actionID string) *Plan {
	return &Plan{
		ID:          id,
		ActionID:    actionID,
		Context:     make(map[string]any),
		StateData:   make(map[string]any),
		StepOutputs: make(map[string]map[string]any),
		CreatedAt:   time.Now(),
		PlanStatus:  StatusPending,
	}
}

// Status returns the plan status thread-safely.
func (p *Plan) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.PlanStatus
}

// SetStatus updates the plan status thread-safely.
func (p *Plan) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlanStatus = s
}

// CompareAndSetStatus atomically transitions from expected to next. Returns
// whether the transition happened.
func (p *Plan) CompareAndSetStatus(expected, next Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlanStatus != expected {
		return false
	}
	p.PlanStatus = next
	return true
}

// Current returns the step at CurrentStep, or nil once the plan ran past the
// last step.
func (p *Plan) Current() *Step {
	if p.CurrentStep < 0 || p.CurrentStep >= len(p.Steps) {
		return nil
	}
	return p.Steps[p.CurrentStep]
}

// Expired reports whether the plan's expiry deadline has passed.
func (p *Plan) Expired(now time.Time) bool {
	return !p.ExpireAt.IsZero() && now.After(p.ExpireAt)
}

// MergeContext merges vars into the plan's session variable map.
func (p *Plan) MergeContext(vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	if p.Context == nil {
		p.Context = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		p.Context[k] = v
	}
}
