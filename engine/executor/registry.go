// Package executor drives execution plans through a pluggable per-step-type
// executor registry, with suspend/resume semantics for steps that need user
// input.
package executor

import (
	"context"
	"sync"

	"github.com/openassist/actionflow/engine/plan"
)

// StepResult is what a step executor reports back.
type StepResult struct {
	// Output is published into the plan's per-step output map on success.
	Output map[string]any
	// NeedsUserInput suspends the plan instead of completing the step.
	NeedsUserInput bool
	// Prompt and Options are shown to the user while suspended.
	Prompt  string
	Options []string
}

// ExecContext is the execution context handed to step executors.
type ExecContext struct {
	// Plan is the owning plan. Executors may read Context and StateData;
	// step state belongs to the driver.
	Plan *plan.Plan
	// Context is the plan's session variable map.
	Context map[string]any
	// StateData is cross-step working memory.
	StateData map[string]any
}

// StepExecutor executes one step type. A returned error marks the step
// failed; suspension is signaled through StepResult.NeedsUserInput.
type StepExecutor interface {
	Execute(ctx context.Context, step *plan.Step, ec *ExecContext) (*StepResult, error)
}

// StepExecutorFunc adapts a function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step *plan.Step, ec *ExecContext) (*StepResult, error)

// Execute implements StepExecutor.
func (f StepExecutorFunc) Execute(ctx context.Context, step *plan.Step, ec *ExecContext) (*StepResult, error) {
	return f(ctx, step, ec)
}

// Registry maps step type tags to executors. Safe for concurrent use; an
// unknown type is a first-class lookup miss, not a nil executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]StepExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]StepExecutor)}
}

// Register binds an executor to a step type, replacing any previous binding.
func (r *Registry) Register(stepType string, exec StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stepType] = exec
}

// RegisterFunc binds a plain function to a step type.
func (r *Registry) RegisterFunc(stepType string, fn StepExecutorFunc) {
	r.Register(stepType, fn)
}

// Get returns the executor for a step type.
func (r *Registry) Get(stepType string) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[stepType]
	return exec, ok
}

// Types returns the registered step types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
