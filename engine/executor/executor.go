package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openassist/actionflow/engine/cache"
	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/plan"
)

var (
	// ErrRollbackUnsupported is returned by Rollback: compensating-action
	// semantics are undefined until product requirements specify
	// compensation steps per action type.
	ErrRollbackUnsupported = errors.New("rollback: compensating actions are not supported")

	// ErrNotWaitingInput is returned by Resume when the current step is not
	// suspended.
	ErrNotWaitingInput = errors.New("resume: current step is not waiting for input")

	// ErrPlanExpired is recorded when a plan's expiry deadline passes before
	// a step starts.
	ErrPlanExpired = errors.New("plan expired")
)

// PlanStore is the optional durable backing for plans. The in-process cache
// is best-effort; the store, when present, is the source of truth.
type PlanStore interface {
	GetPlan(ctx context.Context, id string) (*plan.Plan, bool, error)
	UpsertPlan(ctx context.Context, p *plan.Plan) error
	DeletePlan(ctx context.Context, id string) error
}

// Config configures the executor.
type Config struct {
	// PlanCacheCapacity bounds the process-local plan registry.
	PlanCacheCapacity int
	// PlanCacheTTL bounds how long finished plans stay reachable via
	// GetStatus.
	PlanCacheTTL time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		PlanCacheCapacity: 1000,
		PlanCacheTTL:      time.Hour,
	}
}

// Executor is the sequential step-state-machine driver. Steps of one plan
// always run in declared order; concurrency exists only across plans.
type Executor struct {
	registry *Registry
	plans    *cache.LRU[string, *plan.Plan]
	store    PlanStore // optional
}

// New creates an executor over the given step registry. store may be nil, in
// which case plans live only in the process-local cache.
func New(registry *Registry, store PlanStore, cfg Config) *Executor {
	if cfg.PlanCacheCapacity <= 0 {
		cfg.PlanCacheCapacity = 1000
	}
	if cfg.PlanCacheTTL <= 0 {
		cfg.PlanCacheTTL = time.Hour
	}
	return &Executor{
		registry: registry,
		plans:    cache.NewLRU[string, *plan.Plan](cfg.PlanCacheCapacity, cfg.PlanCacheTTL),
		store:    store,
	}
}

// Execute runs the plan from its current step. It returns normally both on
// completion and on suspension; inspect the plan status to distinguish. The
// returned error covers engine-level failures only (nil plan), not step
// failures, which are recorded on the plan.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, contextVars map[string]any) error {
	if p == nil {
		return fmt.Errorf("execute: plan is nil")
	}

	p.MergeContext(contextVars)
	// Single-winner gate: the status transition decides ownership of the
	// step loop, so a plan can never be driven from two goroutines.
	if !p.CompareAndSetStatus(plan.StatusPending, plan.StatusInProgress) {
		return fmt.Errorf("execute: plan %s is %s, not %s", p.ID, p.Status(), plan.StatusPending)
	}
	now := time.Now()
	p.StartedAt = &now
	e.remember(ctx, p)

	e.runSteps(ctx, p)
	e.persist(ctx, p)
	return nil
}

// Resume continues a suspended plan: only legal when the current step is
// WAITING_INPUT. The user input is merged into the step's input, the step is
// reset to PENDING and retried at the same index.
func (e *Executor) Resume(ctx context.Context, p *plan.Plan, userInput map[string]any) error {
	if p == nil {
		return fmt.Errorf("resume: plan is nil")
	}
	// Same single-winner gate as Execute: of several concurrent resumes
	// only the one that flips WAITING_INPUT wins the step loop; the rest
	// see the plan already running (or finished) and back off.
	if !p.CompareAndSetStatus(plan.StatusWaitingInput, plan.StatusInProgress) {
		return ErrNotWaitingInput
	}
	step := p.Current()
	if step == nil || step.Status != plan.StepWaitingInput {
		p.SetStatus(plan.StatusWaitingInput)
		return ErrNotWaitingInput
	}

	if step.Input == nil {
		step.Input = make(map[string]any, len(userInput))
	}
	for k, v := range userInput {
		step.Input[k] = v
	}
	step.Status = plan.StepPending
	step.Prompt = ""
	step.Options = nil
	p.SetStatus(plan.StatusInProgress)

	slog.Debug("plan resumed", "plan", p.ID, "step", step.ID)

	e.runSteps(ctx, p)
	e.persist(ctx, p)
	return nil
}

// runSteps drives the loop from the plan's current step index.
func (e *Executor) runSteps(ctx context.Context, p *plan.Plan) {
	for p.CurrentStep < len(p.Steps) {
		// Cooperative cancellation: Cancel only flips the stored status,
		// the loop observes it between steps.
		if p.Status() == plan.StatusCancelled {
			slog.Info("plan cancelled between steps", "plan", p.ID, "step_index", p.CurrentStep)
			return
		}

		if p.Expired(time.Now()) {
			e.failPlan(p, p.Current(), ErrPlanExpired.Error())
			return
		}

		step := p.Steps[p.CurrentStep]

		exec, ok := e.registry.Get(step.Type)
		if !ok {
			// Configuration error: fatal to the plan, never retried.
			e.failPlan(p, step, fmt.Sprintf("no executor registered for step type %q", step.Type))
			return
		}

		if err := e.resolveBindings(p, step); err != nil {
			e.failPlan(p, step, err.Error())
			return
		}

		step.Status = plan.StepRunning
		now := time.Now()
		step.StartedAt = &now

		result, err := exec.Execute(ctx, step, &ExecContext{
			Plan:      p,
			Context:   p.Context,
			StateData: p.StateData,
		})

		if err != nil {
			done := time.Now()
			step.CompletedAt = &done
			step.Status = plan.StepFailed
			step.Error = err.Error()
			if step.ContinueOnFailure {
				slog.Warn("step failed, continuing",
					"plan", p.ID, "step", step.ID, "type", step.Type, "error", err)
				p.CurrentStep++
				continue
			}
			p.Error = fmt.Sprintf("step %s failed: %v", step.ID, err)
			p.SetStatus(plan.StatusFailed)
			completed := time.Now()
			p.CompletedAt = &completed
			slog.Error("plan failed", "plan", p.ID, "step", step.ID, "error", err)
			return
		}

		if result != nil && result.NeedsUserInput {
			// The only normal early-exit path, not an error.
			step.Status = plan.StepWaitingInput
			step.Prompt = result.Prompt
			step.Options = result.Options
			p.SetStatus(plan.StatusWaitingInput)
			slog.Debug("plan suspended for user input", "plan", p.ID, "step", step.ID)
			return
		}

		done := time.Now()
		step.CompletedAt = &done
		step.Status = plan.StepCompleted
		if result != nil {
			step.Output = result.Output
			if p.StepOutputs == nil {
				p.StepOutputs = make(map[string]map[string]any)
			}
			p.StepOutputs[step.ID] = result.Output
		}
		p.CurrentStep++
	}

	// Past the last step: the plan result is the final step's output.
	p.SetStatus(plan.StatusCompleted)
	completed := time.Now()
	p.CompletedAt = &completed
	if n := len(p.Steps); n > 0 {
		p.Result = p.Steps[n-1].Output
	}
	slog.Debug("plan completed", "plan", p.ID, "steps", len(p.Steps))
}

// failPlan records a fatal failure on the step (when known) and the plan.
func (e *Executor) failPlan(p *plan.Plan, step *plan.Step, msg string) {
	if step != nil {
		step.Status = plan.StepFailed
		step.Error = msg
		p.Error = fmt.Sprintf("step %s failed: %s", step.ID, msg)
	} else {
		p.Error = msg
	}
	p.SetStatus(plan.StatusFailed)
	now := time.Now()
	p.CompletedAt = &now
	slog.Error("plan failed", "plan", p.ID, "error", msg)
}

// resolveBindings fills inputs deferred to execution time: PREVIOUS_STEP
// values from recorded step outputs (with dotted-path extraction), CONTEXT
// values from the session variable map. A missing path segment yields nil,
// not an error; a missing referenced step is an error.
func (e *Executor) resolveBindings(p *plan.Plan, step *plan.Step) error {
	if len(step.Bindings) == 0 {
		return nil
	}
	if step.Input == nil {
		step.Input = make(map[string]any)
	}

	for _, b := range step.Bindings {
		if _, already := step.Input[b.Name]; already {
			continue
		}
		switch b.Source {
		case catalog.SourcePreviousStep:
			output, ok := p.StepOutputs[b.Ref]
			if !ok {
				return fmt.Errorf("binding %s: no recorded output for step %q", b.Name, b.Ref)
			}
			step.Input[b.Name] = ExtractPath(output, b.Extract)
		case catalog.SourceContext:
			step.Input[b.Name] = p.Context[b.Ref]
		default:
			return fmt.Errorf("binding %s: unsupported source %q", b.Name, b.Source)
		}
	}
	return nil
}

// ExtractPath navigates nested maps with a dotted-path expression of the
// form $.a.b. An empty expression returns the whole output; a missing
// segment yields nil.
func ExtractPath(output map[string]any, expr string) any {
	if expr == "" || expr == "$" {
		return output
	}
	expr = strings.TrimPrefix(expr, "$.")
	expr = strings.TrimPrefix(expr, "$")

	var current any = output
	for _, segment := range strings.Split(expr, ".") {
		if segment == "" {
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// GetStatus returns the plan with the given id. The local cache is
// consulted first; the durable store, when configured, is the fallback and
// the source of truth.
func (e *Executor) GetStatus(ctx context.Context, planID string) (*plan.Plan, bool) {
	if p, ok := e.plans.Get(planID); ok {
		return p, true
	}
	if e.store != nil {
		p, ok, err := e.store.GetPlan(ctx, planID)
		if err != nil {
			slog.Warn("plan store lookup failed", "plan", planID, "error", err)
			return nil, false
		}
		if ok {
			e.plans.Set(planID, p, 0)
			return p, true
		}
	}
	return nil, false
}

// Cancel cooperatively cancels a plan: it flips the stored status without
// interrupting an in-flight step. Idempotent; returns whether the plan was
// found.
func (e *Executor) Cancel(ctx context.Context, planID string) bool {
	p, ok := e.GetStatus(ctx, planID)
	if !ok {
		return false
	}
	if !p.Status().IsTerminal() {
		p.SetStatus(plan.StatusCancelled)
		now := time.Now()
		p.CompletedAt = &now
		e.persist(ctx, p)
		slog.Info("plan cancelled", "plan", planID)
	}
	return true
}

// Rollback reports that compensating actions are unsupported. See
// ErrRollbackUnsupported.
func (e *Executor) Rollback(_ context.Context, p *plan.Plan) error {
	if p != nil {
		slog.Warn("rollback requested but unsupported", "plan", p.ID)
	}
	return ErrRollbackUnsupported
}

// remember places the plan in the local registry and writes it through to
// the durable store when configured.
func (e *Executor) remember(ctx context.Context, p *plan.Plan) {
	e.plans.Set(p.ID, p, 0)
	e.persist(ctx, p)
}

// persist writes the plan to the durable store, best-effort.
func (e *Executor) persist(ctx context.Context, p *plan.Plan) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertPlan(ctx, p); err != nil {
		slog.Warn("failed to persist plan", "plan", p.ID, "error", err)
	}
}
