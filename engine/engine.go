// Package engine wires the intent routing and plan execution pipeline: user
// text is pre-filtered by the keyword index, routed to a confidence band,
// then either executed as a plan or driven through a parameter collection
// session across turns.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/collect"
	"github.com/openassist/actionflow/engine/executor"
	"github.com/openassist/actionflow/engine/keyword"
	"github.com/openassist/actionflow/engine/llm"
	"github.com/openassist/actionflow/engine/metrics"
	"github.com/openassist/actionflow/engine/plan"
	"github.com/openassist/actionflow/engine/routing"
)

// Options assembles an Engine. Catalog, Registry and SessionStore are
// required; the rest have working defaults or are optional collaborators.
type Options struct {
	Catalog      catalog.Catalog
	Index        *keyword.Index
	Registry     *executor.Registry
	SessionStore collect.SessionStore
	PlanStore    executor.PlanStore     // optional durable plan backing
	Completion   llm.CompletionService  // optional, enables LLM slot filling
	Metrics      *metrics.Exporter      // optional

	Router    routing.Config
	Collector collect.Config
	Executor  executor.Config
}

// Engine is the intent-to-action orchestration entry point. Safe for
// concurrent use across requests; a single dispatch is synchronous.
type Engine struct {
	catalog   catalog.Catalog
	index     *keyword.Index
	router    *routing.Router
	generator *plan.Generator
	executor  *executor.Executor
	collector *collect.Collector
	metrics   *metrics.Exporter
}

// New creates an engine from the given options.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("engine: catalog required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: step executor registry required")
	}
	if opts.SessionStore == nil {
		opts.SessionStore = collect.NewMemorySessionStore()
	}
	if opts.Index == nil {
		opts.Index = keyword.NewIndex()
	}
	if opts.Router.DirectExecuteThreshold == 0 && opts.Router.HintThreshold == 0 {
		opts.Router = routing.DefaultConfig()
	}
	if opts.Metrics != nil && opts.Router.OnCacheLookup == nil {
		m := opts.Metrics
		opts.Router.OnCacheLookup = func(hit bool) {
			m.ObserveCache("decision", hit)
		}
	}

	return &Engine{
		catalog:   opts.Catalog,
		index:     opts.Index,
		router:    routing.NewRouter(opts.Index, opts.Catalog, opts.Router),
		generator: plan.NewGenerator(),
		executor:  executor.New(opts.Registry, opts.PlanStore, opts.Executor),
		collector: collect.NewCollector(opts.SessionStore, opts.Catalog, opts.Completion, opts.Collector),
		metrics:   opts.Metrics,
	}, nil
}

// RegisterAction indexes an action for keyword routing and, when the catalog
// supports registration, adds it there too.
func (e *Engine) RegisterAction(action *catalog.ActionDefinition) error {
	if reg, ok := e.catalog.(interface {
		Register(*catalog.ActionDefinition) error
	}); ok {
		if err := reg.Register(action); err != nil {
			return err
		}
	}
	e.index.Register(action)
	return nil
}

// RemoveAction drops an action from the keyword index and, when supported,
// the catalog.
func (e *Engine) RemoveAction(actionID string) {
	if reg, ok := e.catalog.(interface{ Unregister(string) bool }); ok {
		reg.Unregister(actionID)
	}
	e.index.Remove(actionID)
}

// DispatchRequest is one user turn.
type DispatchRequest struct {
	UserID    int32
	SessionID string
	Text      string
	// Context carries session-scoped variables into plan execution.
	Context map[string]any
}

// DispatchResult is the structured outcome of one turn.
type DispatchResult struct {
	// Handled is false when the input matched no action; the caller falls
	// through to its default handling.
	Handled bool `json:"handled"`

	Band     routing.Band `json:"band,omitempty"`
	ActionID string       `json:"action_id,omitempty"`

	// Plan is set when a plan was generated this turn.
	Plan *plan.Plan `json:"plan,omitempty"`

	// Reply is the user-facing text: a collection question, a suspension
	// prompt, or a completion/failure summary.
	Reply string `json:"reply,omitempty"`

	// WaitingInput is true when the plan suspended for user input.
	WaitingInput bool `json:"waiting_input"`

	// Collecting is true while a parameter collection session is open.
	Collecting bool `json:"collecting"`
}

// Dispatch processes one user turn end to end: active-session continuation,
// routing, parameter collection, plan generation and execution.
func (e *Engine) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	start := time.Now()

	// An open collection session consumes the turn before any routing.
	if session, ok, err := e.collector.Active(ctx, req.SessionID); err != nil {
		return nil, fmt.Errorf("dispatch: load session: %w", err)
	} else if ok {
		return e.continueCollection(ctx, req, session)
	}

	decision, err := e.router.Route(ctx, req.Text, req.Context)
	if err != nil {
		return nil, fmt.Errorf("dispatch: route: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveDispatch(string(decision.Band), decision.Source, time.Since(start))
	}

	if decision.Band == routing.BandIgnore || decision.Match == nil {
		return &DispatchResult{Handled: false, Band: routing.BandIgnore}, nil
	}

	match := decision.Match
	if len(match.Missing) > 0 {
		session, err := e.collector.Begin(ctx, req.SessionID, req.UserID, match)
		if err != nil {
			return nil, fmt.Errorf("dispatch: open collection session: %w", err)
		}
		if e.metrics != nil {
			e.metrics.ObserveSessionOpened()
		}
		return &DispatchResult{
			Handled:    true,
			Band:       decision.Band,
			ActionID:   match.Action.ID,
			Reply:      session.NextQuestion,
			Collecting: true,
		}, nil
	}

	result, err := e.runAction(ctx, req, match.Action, match.Params)
	if err != nil {
		return nil, err
	}
	result.Band = decision.Band
	return result, nil
}

// continueCollection feeds one turn into the open collection session and, on
// completion, hands the collected parameters to plan execution.
func (e *Engine) continueCollection(ctx context.Context, req DispatchRequest, session *collect.Session) (*DispatchResult, error) {
	outcome, err := e.collector.Continue(ctx, session, req.Text)
	if err != nil {
		return nil, fmt.Errorf("dispatch: continue collection: %w", err)
	}

	if outcome.Cancelled {
		if e.metrics != nil {
			e.metrics.ObserveSessionClosed("cancelled")
		}
		return &DispatchResult{
			Handled:  true,
			ActionID: session.ActionID,
			Reply:    "好的，已取消。",
		}, nil
	}

	if !outcome.Done {
		return &DispatchResult{
			Handled:    true,
			ActionID:   session.ActionID,
			Reply:      outcome.Question,
			Collecting: true,
		}, nil
	}

	if e.metrics != nil {
		e.metrics.ObserveSessionClosed("completed")
	}

	action, ok, err := e.catalog.GetAction(ctx, session.ActionID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load action: %w", err)
	}
	if !ok {
		return &DispatchResult{
			Handled: true,
			Reply:   fmt.Sprintf("操作 %s 已不可用。", session.ActionName),
		}, nil
	}
	return e.runAction(ctx, req, action, outcome.Params)
}

// runAction generates, validates and executes a plan for the action.
func (e *Engine) runAction(ctx context.Context, req DispatchRequest, action *catalog.ActionDefinition, params map[string]any) (*DispatchResult, error) {
	p, err := e.generator.Generate(action, params, &plan.GenContext{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Context:   req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: generate plan: %w", err)
	}
	if err := e.generator.Validate(p); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	start := time.Now()
	if err := e.executor.Execute(ctx, p, req.Context); err != nil {
		return nil, fmt.Errorf("dispatch: execute plan: %w", err)
	}

	result := &DispatchResult{
		Handled:  true,
		ActionID: action.ID,
		Plan:     p,
	}
	switch p.Status() {
	case plan.StatusWaitingInput:
		result.WaitingInput = true
		if step := p.Current(); step != nil {
			result.Reply = step.Prompt
		}
	case plan.StatusCompleted:
		result.Reply = fmt.Sprintf("「%s」已完成。", action.Name)
		e.observePlan(p, start)
	case plan.StatusFailed:
		result.Reply = fmt.Sprintf("「%s」执行失败：%s", action.Name, p.Error)
		e.observePlan(p, start)
	}
	return result, nil
}

func (e *Engine) observePlan(p *plan.Plan, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObservePlan(string(p.Status()), time.Since(start))
	if p.Status() == plan.StatusFailed {
		if step := p.Current(); step != nil {
			e.metrics.ObserveStepFailure(step.Type)
		}
	}
}

// Resume continues a suspended plan with the supplied user input.
func (e *Engine) Resume(ctx context.Context, planID string, input map[string]any) (*plan.Plan, error) {
	p, ok := e.executor.GetStatus(ctx, planID)
	if !ok {
		return nil, fmt.Errorf("resume: plan %s not found", planID)
	}
	if err := e.executor.Resume(ctx, p, input); err != nil {
		return nil, err
	}
	return p, nil
}

// PlanStatus returns the plan with the given id.
func (e *Engine) PlanStatus(ctx context.Context, planID string) (*plan.Plan, bool) {
	return e.executor.GetStatus(ctx, planID)
}

// CancelPlan cooperatively cancels a plan. Returns whether it was found.
func (e *Engine) CancelPlan(ctx context.Context, planID string) bool {
	return e.executor.Cancel(ctx, planID)
}

// CancelSession abandons the open collection session for a conversation id.
func (e *Engine) CancelSession(ctx context.Context, sessionID string) (bool, error) {
	ok, err := e.collector.Cancel(ctx, sessionID)
	if ok && e.metrics != nil {
		e.metrics.ObserveSessionClosed("cancelled")
	}
	return ok, err
}

// Warmup hydrates the keyword index from the catalog; called once at startup.
func (e *Engine) Warmup(ctx context.Context) {
	actions, err := e.catalog.ListActions(ctx)
	if err != nil {
		slog.Warn("engine warmup: list actions failed", "error", err)
		return
	}
	for _, a := range actions {
		e.index.Register(a)
	}
	slog.Info("engine ready", "actions", len(actions), "index_tokens", e.index.Size())
}
