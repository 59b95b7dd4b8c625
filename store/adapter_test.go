package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/collect"
	"github.com/openassist/actionflow/engine/plan"
)

// fakeDriver is an in-memory Driver for adapter tests.
type fakeDriver struct {
	sessions   map[string]*ParamSession
	plans      map[string]*PlanRecord
	actions    map[string]*ActionRecord
	embeddings map[string]*ActionEmbedding
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		sessions:   make(map[string]*ParamSession),
		plans:      make(map[string]*PlanRecord),
		actions:    make(map[string]*ActionRecord),
		embeddings: make(map[string]*ActionEmbedding),
	}
}

func (d *fakeDriver) GetDB() *sql.DB                  { return nil }
func (d *fakeDriver) Close() error                    { return nil }
func (d *fakeDriver) Migrate(_ context.Context) error { return nil }

func (d *fakeDriver) GetParamSession(_ context.Context, id string) (*ParamSession, error) {
	session, ok := d.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

func (d *fakeDriver) UpsertParamSession(_ context.Context, session *ParamSession) error {
	d.sessions[session.ID] = session
	return nil
}

func (d *fakeDriver) DeleteParamSession(_ context.Context, id string) error {
	delete(d.sessions, id)
	return nil
}

func (d *fakeDriver) GetPlanRecord(_ context.Context, id string) (*PlanRecord, error) {
	record, ok := d.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

func (d *fakeDriver) UpsertPlanRecord(_ context.Context, record *PlanRecord) error {
	d.plans[record.ID] = record
	return nil
}

func (d *fakeDriver) DeletePlanRecord(_ context.Context, id string) error {
	delete(d.plans, id)
	return nil
}

func (d *fakeDriver) ListActionRecords(_ context.Context, find *FindActionRecord) ([]*ActionRecord, error) {
	var records []*ActionRecord
	for _, record := range d.actions {
		if find.ID != nil && record.ID != *find.ID {
			continue
		}
		if find.Enabled != nil && record.Enabled != *find.Enabled {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (d *fakeDriver) UpsertActionRecord(_ context.Context, record *ActionRecord) error {
	d.actions[record.ID] = record
	return nil
}

func (d *fakeDriver) DeleteActionRecord(_ context.Context, id string) error {
	delete(d.actions, id)
	return nil
}

func (d *fakeDriver) UpsertActionEmbedding(_ context.Context, embedding *ActionEmbedding) error {
	d.embeddings[embedding.ActionID] = embedding
	return nil
}

func (d *fakeDriver) SearchActionEmbeddings(_ context.Context, _ []float32, _ string, _ int) ([]*ActionDistance, error) {
	return nil, nil
}

var _ Driver = (*fakeDriver)(nil)

// 测试收集会话在存储适配层的往返：字段、时间戳与空值语义。
func TestSessionStoreRoundTrip(t *testing.T) {
	sessions := NewSessionStore(New(newFakeDriver()))
	ctx := context.Background()

	session := &collect.Session{
		ID:            "conv-1",
		UserID:        42,
		ActionID:      "unit-add",
		ActionName:    "添加单位",
		State:         collect.StateCollecting,
		Collected:     map[string]any{"name": "千克"},
		Missing:       []string{"symbol"},
		NextQuestion:  "请提供单位符号",
		AwaitingInput: true,
	}
	require.NoError(t, sessions.Save(ctx, session))
	assert.False(t, session.UpdatedAt.IsZero(), "save stamps the update time")

	got, ok, err := sessions.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.UserID, got.UserID)
	assert.Equal(t, collect.StateCollecting, got.State)
	assert.Equal(t, map[string]any{"name": "千克"}, got.Collected)
	assert.Equal(t, []string{"symbol"}, got.Missing)
	assert.Equal(t, "请提供单位符号", got.NextQuestion)
	assert.True(t, got.AwaitingInput)

	t.Run("missing id maps to not found", func(t *testing.T) {
		_, ok, err := sessions.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("close removes the session", func(t *testing.T) {
		require.NoError(t, sessions.Close(ctx, "conv-1"))
		_, ok, err := sessions.Get(ctx, "conv-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, sessions.Close(ctx, "conv-1"), "closing twice is a no-op")
	})
}

// 测试计划整体序列化存取：载荷往返后状态与步骤保持一致。
func TestPlanStoreRoundTrip(t *testing.T) {
	driver := newFakeDriver()
	plans := NewPlanStore(New(driver))
	ctx := context.Background()

	p := plan.NewPlan("plan-1", "unit-add")
	p.SessionID = "conv-1"
	p.CreatedAt = time.Now()
	p.ExpireAt = p.CreatedAt.Add(30 * time.Minute)
	p.Steps = []*plan.Step{
		{ID: "s1", Name: "execute", Type: "unit", Status: plan.StepCompleted,
			Output: map[string]any{"name": "千克"}},
	}
	p.CurrentStep = 1
	p.Result = map[string]any{"name": "千克"}
	p.SetStatus(plan.StatusCompleted)

	require.NoError(t, plans.UpsertPlan(ctx, p))

	record := driver.plans["plan-1"]
	require.NotNil(t, record)
	assert.Equal(t, "unit-add", record.ActionID)
	assert.Equal(t, "conv-1", record.SessionID)
	assert.Equal(t, string(plan.StatusCompleted), record.Status)
	assert.Equal(t, p.ExpireAt.Unix(), record.ExpireTs)

	got, ok, err := plans.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plan.StatusCompleted, got.Status())
	assert.Equal(t, 1, got.CurrentStep)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, plan.StepCompleted, got.Steps[0].Status)
	assert.Equal(t, "千克", got.Result["name"])

	t.Run("unknown plan", func(t *testing.T) {
		_, ok, err := plans.GetPlan(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, plans.DeletePlan(ctx, "plan-1"))
		_, ok, err := plans.GetPlan(ctx, "plan-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// 测试操作定义以 JSON 形式持久化并完整还原。
func TestActionDefinitionRoundTrip(t *testing.T) {
	st := New(newFakeDriver())
	ctx := context.Background()

	action := &catalog.ActionDefinition{
		ID:       "unit-add",
		Name:     "添加单位",
		Handler:  "unit",
		Enabled:  true,
		Keywords: []string{"添加单位"},
		Parameters: []catalog.ActionParameter{
			{Name: "name", Label: "单位名称", Type: catalog.ParamTypeString, Required: true},
		},
		Priority: 2,
	}
	require.NoError(t, st.SaveActionDefinition(ctx, action))

	disabled := &catalog.ActionDefinition{ID: "unit-del", Name: "删除单位", Enabled: false}
	require.NoError(t, st.SaveActionDefinition(ctx, disabled))

	actions, err := st.LoadActionDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2, "disabled definitions are loaded too")

	byID := make(map[string]*catalog.ActionDefinition, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	got := byID["unit-add"]
	require.NotNil(t, got)
	assert.Equal(t, "添加单位", got.Name)
	assert.Equal(t, 2, got.Priority)
	require.Len(t, got.Parameters, 1)
	assert.True(t, got.Parameters[0].Required)
	assert.False(t, byID["unit-del"].Enabled)
}
