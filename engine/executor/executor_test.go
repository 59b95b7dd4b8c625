package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/plan"
)

func newTestPlan(steps ...*plan.Step) *plan.Plan {
	p := plan.NewPlan("plan-1", "action-1")
	for i, s := range steps {
		s.Order = i
		if s.Status == "" {
			s.Status = plan.StepPending
		}
	}
	p.Steps = steps
	return p
}

func echoExecutor() StepExecutorFunc {
	return func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		return &StepResult{Output: step.Input}, nil
	}
}

func TestExecutor_CompletesSequentially(t *testing.T) {
	registry := NewRegistry()
	var order []string
	registry.RegisterFunc("record", func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		order = append(order, step.ID)
		return &StepResult{Output: map[string]any{"id": step.ID}}, nil
	})

	exec := New(registry, nil, Config{})
	p := newTestPlan(
		&plan.Step{ID: "s1", Type: "record"},
		&plan.Step{ID: "s2", Type: "record"},
		&plan.Step{ID: "s3", Type: "record"},
	)

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	assert.Equal(t, plan.StatusCompleted, p.Status())
	assert.Equal(t, []string{"s1", "s2", "s3"}, order, "steps run in declared order")
	assert.Equal(t, 3, p.CurrentStep)
	assert.Equal(t, map[string]any{"id": "s3"}, p.Result, "plan result is the final step output")
	for _, s := range p.Steps {
		assert.Equal(t, plan.StepCompleted, s.Status)
		require.NotNil(t, s.CompletedAt)
	}
}

func TestExecutor_SuspendAndResume(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("confirm", func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		if _, ok := step.Input["answer"]; !ok {
			return &StepResult{
				NeedsUserInput: true,
				Prompt:         "请确认操作",
				Options:        []string{"yes", "no"},
			}, nil
		}
		return &StepResult{Output: map[string]any{"answer": step.Input["answer"]}}, nil
	})

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "confirm"})

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	// Suspended, not failed: the step index does not advance.
	assert.Equal(t, plan.StatusWaitingInput, p.Status())
	assert.Equal(t, 0, p.CurrentStep)
	step := p.Current()
	require.NotNil(t, step)
	assert.Equal(t, plan.StepWaitingInput, step.Status)
	assert.Equal(t, "请确认操作", step.Prompt)
	assert.Equal(t, []string{"yes", "no"}, step.Options)

	require.NoError(t, exec.Resume(context.Background(), p, map[string]any{"answer": "yes"}))

	assert.Equal(t, plan.StatusCompleted, p.Status())
	assert.Equal(t, map[string]any{"answer": "yes"}, p.Result)
}

// 并发恢复同一挂起计划时只有一个调用接管步骤循环，其余返回 ErrNotWaitingInput。
func TestExecutor_ConcurrentResumeSingleWinner(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("confirm", func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		if _, ok := step.Input["answer"]; !ok {
			return &StepResult{NeedsUserInput: true, Prompt: "请确认操作"}, nil
		}
		return &StepResult{Output: map[string]any{"answer": step.Input["answer"]}}, nil
	})

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "confirm"})
	require.NoError(t, exec.Execute(context.Background(), p, nil))
	require.Equal(t, plan.StatusWaitingInput, p.Status())

	const resumers = 8
	start := make(chan struct{})
	errs := make([]error, resumers)
	var wg sync.WaitGroup
	for i := 0; i < resumers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = exec.Resume(context.Background(), p, map[string]any{"answer": "yes"})
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrNotWaitingInput)
		}
	}
	assert.Equal(t, 1, winners, "exactly one resume drives the step loop")
	assert.Equal(t, plan.StatusCompleted, p.Status())
	assert.Equal(t, map[string]any{"answer": "yes"}, p.Result)
}

func TestExecutor_ExecuteRequiresPending(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("noop", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "noop"})

	require.NoError(t, exec.Execute(context.Background(), p, nil))
	assert.Equal(t, plan.StatusCompleted, p.Status())

	err := exec.Execute(context.Background(), p, nil)
	assert.Error(t, err, "a finished plan cannot be executed again")
}

func TestExecutor_ResumeRequiresWaitingInput(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("noop", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "noop"})

	err := exec.Resume(context.Background(), p, nil)
	assert.ErrorIs(t, err, ErrNotWaitingInput)

	require.NoError(t, exec.Execute(context.Background(), p, nil))
	err = exec.Resume(context.Background(), p, nil)
	assert.ErrorIs(t, err, ErrNotWaitingInput, "completed plans cannot be resumed")
}

func TestExecutor_StepFailureFailsPlan(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("boom", func(_ context.Context, _ *plan.Step, _ *ExecContext) (*StepResult, error) {
		return nil, errors.New("downstream unavailable")
	})
	registry.RegisterFunc("noop", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(
		&plan.Step{ID: "s1", Type: "boom"},
		&plan.Step{ID: "s2", Type: "noop"},
	)

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	assert.Equal(t, plan.StatusFailed, p.Status())
	assert.Equal(t, plan.StepFailed, p.Steps[0].Status)
	assert.Contains(t, p.Steps[0].Error, "downstream unavailable")
	assert.Equal(t, plan.StepPending, p.Steps[1].Status, "later steps never run")
	assert.NotEmpty(t, p.Error)
}

func TestExecutor_ContinueOnFailure(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("boom", func(_ context.Context, _ *plan.Step, _ *ExecContext) (*StepResult, error) {
		return nil, errors.New("optional step broke")
	})
	registry.RegisterFunc("noop", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(
		&plan.Step{ID: "s1", Type: "boom", ContinueOnFailure: true},
		&plan.Step{ID: "s2", Type: "noop", Input: map[string]any{"ok": true}},
	)

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	assert.Equal(t, plan.StatusCompleted, p.Status())
	assert.Equal(t, plan.StepFailed, p.Steps[0].Status)
	assert.Equal(t, plan.StepCompleted, p.Steps[1].Status)
	assert.Equal(t, map[string]any{"ok": true}, p.Result)
}

func TestExecutor_UnknownStepTypeIsFatal(t *testing.T) {
	exec := New(NewRegistry(), nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "unregistered"})

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	assert.Equal(t, plan.StatusFailed, p.Status())
	assert.Contains(t, p.Steps[0].Error, "unregistered")
}

func TestExecutor_Expiry(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("noop", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "noop"})
	p.ExpireAt = time.Now().Add(-time.Minute)

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	assert.Equal(t, plan.StatusFailed, p.Status())
	assert.Contains(t, p.Error, "expired")
}

func TestExecutor_Bindings(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("produce", func(_ context.Context, _ *plan.Step, _ *ExecContext) (*StepResult, error) {
		return &StepResult{Output: map[string]any{
			"result": map[string]any{"rows": []any{"r1", "r2"}},
		}}, nil
	})
	var consumed map[string]any
	registry.RegisterFunc("consume", func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		consumed = step.Input
		return &StepResult{}, nil
	})

	exec := New(registry, nil, Config{})
	p := newTestPlan(
		&plan.Step{ID: "s1", Type: "produce"},
		&plan.Step{ID: "s2", Type: "consume", Bindings: []plan.Binding{
			{Name: "rows", Source: catalog.SourcePreviousStep, Ref: "s1", Extract: "$.result.rows"},
			{Name: "missing", Source: catalog.SourcePreviousStep, Ref: "s1", Extract: "$.result.absent"},
			{Name: "locale", Source: catalog.SourceContext, Ref: "user_locale"},
		}},
	)

	require.NoError(t, exec.Execute(context.Background(), p, map[string]any{"user_locale": "zh-CN"}))

	assert.Equal(t, plan.StatusCompleted, p.Status())
	require.NotNil(t, consumed)
	assert.Equal(t, []any{"r1", "r2"}, consumed["rows"])
	assert.Nil(t, consumed["missing"], "missing path segment yields nil, not an error")
	assert.Equal(t, "zh-CN", consumed["locale"])
}

func TestExecutor_BindingToUnknownStepIsFatal(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("consume", echoExecutor())

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "consume", Bindings: []plan.Binding{
		{Name: "v", Source: catalog.SourcePreviousStep, Ref: "never-ran"},
	}})

	require.NoError(t, exec.Execute(context.Background(), p, nil))
	assert.Equal(t, plan.StatusFailed, p.Status())
}

func TestExtractPath(t *testing.T) {
	output := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 42},
		},
		"top": "value",
	}

	testCases := []struct {
		name     string
		expr     string
		expected any
	}{
		{"empty returns whole output", "", output},
		{"bare dollar returns whole output", "$", output},
		{"top level", "$.top", "value"},
		{"nested", "$.a.b.c", 42},
		{"missing segment", "$.a.x.c", nil},
		{"non-map traversal", "$.top.deeper", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractPath(output, tc.expr))
		})
	}
}

func TestExecutor_Cancel(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("confirm", func(_ context.Context, step *plan.Step, _ *ExecContext) (*StepResult, error) {
		return &StepResult{NeedsUserInput: true, Prompt: "?"}, nil
	})

	exec := New(registry, nil, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "confirm"})
	require.NoError(t, exec.Execute(context.Background(), p, nil))
	require.Equal(t, plan.StatusWaitingInput, p.Status())

	assert.True(t, exec.Cancel(context.Background(), p.ID))
	assert.Equal(t, plan.StatusCancelled, p.Status())

	// Idempotent: cancelling again keeps the terminal status.
	assert.True(t, exec.Cancel(context.Background(), p.ID))
	assert.Equal(t, plan.StatusCancelled, p.Status())

	assert.False(t, exec.Cancel(context.Background(), "unknown"))

	err := exec.Resume(context.Background(), p, nil)
	assert.Error(t, err, "cancelled plans cannot be resumed")
}

func TestExecutor_GetStatusFallsBackToStore(t *testing.T) {
	stored := plan.NewPlan("durable", "a1")
	store := &fakePlanStore{plans: map[string]*plan.Plan{stored.ID: stored}}

	exec := New(NewRegistry(), store, Config{})

	p, ok := exec.GetStatus(context.Background(), "durable")
	require.True(t, ok)
	assert.Equal(t, "durable", p.ID)

	_, ok = exec.GetStatus(context.Background(), "missing")
	assert.False(t, ok)
}

func TestExecutor_PersistsThroughStore(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("noop", echoExecutor())
	store := &fakePlanStore{plans: map[string]*plan.Plan{}}

	exec := New(registry, store, Config{})
	p := newTestPlan(&plan.Step{ID: "s1", Type: "noop"})

	require.NoError(t, exec.Execute(context.Background(), p, nil))

	persisted, ok := store.plans[p.ID]
	require.True(t, ok)
	assert.Equal(t, plan.StatusCompleted, persisted.Status())
}

func TestExecutor_Rollback(t *testing.T) {
	exec := New(NewRegistry(), nil, Config{})
	err := exec.Rollback(context.Background(), plan.NewPlan("p", "a"))
	assert.ErrorIs(t, err, ErrRollbackUnsupported)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.Get("missing")
	assert.False(t, ok)

	registry.RegisterFunc("a", echoExecutor())
	registry.RegisterFunc("b", echoExecutor())

	_, ok = registry.Get("a")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, registry.Types())
}

// fakePlanStore is an in-memory PlanStore for tests.
type fakePlanStore struct {
	plans map[string]*plan.Plan
}

func (f *fakePlanStore) GetPlan(_ context.Context, id string) (*plan.Plan, bool, error) {
	p, ok := f.plans[id]
	return p, ok, nil
}

func (f *fakePlanStore) UpsertPlan(_ context.Context, p *plan.Plan) error {
	f.plans[p.ID] = p
	return nil
}

func (f *fakePlanStore) DeletePlan(_ context.Context, id string) error {
	delete(f.plans, id)
	return nil
}
