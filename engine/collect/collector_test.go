package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openassist/actionflow/engine/catalog"
)

// fakeCompletion is a scripted llm.CompletionService.
type fakeCompletion struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompletion) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func reminderAction() *catalog.ActionDefinition {
	return &catalog.ActionDefinition{
		ID:      "reminder-add",
		Name:    "添加提醒",
		Handler: "reminder",
		Enabled: true,
		Parameters: []catalog.ActionParameter{
			{Name: "content", Label: "提醒内容", Type: catalog.ParamTypeString, Required: true},
			{Name: "time", Label: "提醒时间", Type: catalog.ParamTypeString, Required: true},
			{Name: "repeat", Type: catalog.ParamTypeString},
		},
	}
}

func newTestCollector(t *testing.T, completion *fakeCompletion, cfg Config) (*Collector, *catalog.MemoryCatalog) {
	t.Helper()
	cat := catalog.NewMemoryCatalog()
	require.NoError(t, cat.Register(reminderAction()))
	if completion == nil {
		return NewCollector(NewMemorySessionStore(), cat, nil, cfg), cat
	}
	return NewCollector(NewMemorySessionStore(), cat, completion, cfg), cat
}

// 测试开启收集会话：已有值从匹配结果播种，首个问题针对第一个缺失参数。
func TestCollector_Begin(t *testing.T) {
	c, _ := newTestCollector(t, nil, Config{})
	ctx := context.Background()

	action := reminderAction()
	session, err := c.Begin(ctx, "conv-1", 7, &catalog.Match{
		Action: action,
		Params: map[string]any{"content": "开会"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCollecting, session.State)
	assert.Equal(t, "开会", session.Collected["content"])
	assert.Equal(t, []string{"time"}, session.Missing)
	assert.Equal(t, "请提供提醒时间", session.NextQuestion)
	assert.True(t, session.AwaitingInput)

	got, ok, err := c.Active(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, got.ID)

	t.Run("match without action", func(t *testing.T) {
		_, err := c.Begin(ctx, "conv-2", 0, &catalog.Match{})
		assert.Error(t, err)
	})
}

// 测试降级模式下的逐槽填充：原始输入按顺序落到第一个缺失参数。
func TestCollector_FallbackSlotFilling(t *testing.T) {
	c, _ := newTestCollector(t, nil, Config{})
	ctx := context.Background()

	session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
	require.NoError(t, err)
	require.Equal(t, []string{"content", "time"}, session.Missing)

	out, err := c.Continue(ctx, session, "买牛奶")
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.Equal(t, "买牛奶", out.Session.Collected["content"])
	assert.Equal(t, []string{"time"}, out.Session.Missing)
	assert.Equal(t, "请提供提醒时间", out.Question)

	out, err = c.Continue(ctx, out.Session, "明天早上八点")
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, map[string]any{
		"content": "买牛奶",
		"time":    "明天早上八点",
	}, out.Params)
	assert.Equal(t, StateCompleted, out.Session.State)

	// Completed sessions are no longer active.
	_, ok, err := c.Active(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// 测试 LLM 提取路径：补全服务返回的 JSON 合并到已收集参数中。
func TestCollector_LLMExtraction(t *testing.T) {
	completion := &fakeCompletion{
		reply: "```json\n{\"params\": {\"content\": \"交房租\", \"time\": \"月底\", \"bogus\": \"dropped\"}}\n```",
	}
	c, _ := newTestCollector(t, completion, Config{})
	ctx := context.Background()

	session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
	require.NoError(t, err)

	out, err := c.Continue(ctx, session, "月底提醒我交房租")
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, 1, completion.calls)
	assert.Equal(t, "交房租", out.Params["content"])
	assert.Equal(t, "月底", out.Params["time"])
	assert.NotContains(t, out.Params, "bogus", "undeclared parameters are dropped")
}

// 测试补全服务失败时回退到规则填充。
func TestCollector_LLMFailureFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		completion *fakeCompletion
	}{
		{"service error", &fakeCompletion{err: errors.New("upstream timeout")}},
		{"unparseable reply", &fakeCompletion{reply: "好的，我记下了"}},
		{"empty params", &fakeCompletion{reply: `{"params": {}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCollector(t, tt.completion, Config{})
			ctx := context.Background()

			session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
			require.NoError(t, err)

			out, err := c.Continue(ctx, session, "买牛奶")
			require.NoError(t, err)
			assert.Equal(t, "买牛奶", out.Session.Collected["content"],
				"raw input is assigned to the first missing parameter")
		})
	}
}

// 测试确认环节：所有参数齐备后先询问确认，确认词完成、其他回答视为放弃。
func TestCollector_Confirmation(t *testing.T) {
	ctx := context.Background()

	begin := func(t *testing.T) (*Collector, *Session) {
		c, _ := newTestCollector(t, nil, Config{RequireConfirm: true})
		session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{
			Action: reminderAction(),
			Params: map[string]any{"content": "开会"},
		})
		require.NoError(t, err)
		return c, session
	}

	t.Run("confirm completes", func(t *testing.T) {
		c, session := begin(t)
		out, err := c.Continue(ctx, session, "下午三点")
		require.NoError(t, err)
		require.False(t, out.Done)
		assert.Equal(t, StatePendingConfirm, out.Session.State)
		assert.Contains(t, out.Question, "添加提醒")
		assert.Contains(t, out.Question, "确认执行吗")

		out, err = c.Continue(ctx, out.Session, "确认")
		require.NoError(t, err)
		assert.True(t, out.Done)
		assert.Equal(t, "下午三点", out.Params["time"])
	})

	t.Run("english confirm word", func(t *testing.T) {
		c, session := begin(t)
		out, err := c.Continue(ctx, session, "下午三点")
		require.NoError(t, err)
		out, err = c.Continue(ctx, out.Session, "YES")
		require.NoError(t, err)
		assert.True(t, out.Done)
	})

	t.Run("decline cancels", func(t *testing.T) {
		c, session := begin(t)
		out, err := c.Continue(ctx, session, "下午三点")
		require.NoError(t, err)
		out, err = c.Continue(ctx, out.Session, "还是不要了吧")
		require.NoError(t, err)
		assert.True(t, out.Cancelled)
		assert.Equal(t, StateCancelled, out.Session.State)
	})
}

// 测试取消词在任意环节立即终止会话。
func TestCollector_CancelWords(t *testing.T) {
	ctx := context.Background()
	for _, word := range []string{"取消", "算了", "cancel", "  NO  "} {
		t.Run(word, func(t *testing.T) {
			c, _ := newTestCollector(t, nil, Config{})
			session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
			require.NoError(t, err)

			out, err := c.Continue(ctx, session, word)
			require.NoError(t, err)
			assert.True(t, out.Cancelled)

			_, ok, err := c.Active(ctx, "conv-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCollector_Cancel(t *testing.T) {
	c, _ := newTestCollector(t, nil, Config{})
	ctx := context.Background()

	_, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
	require.NoError(t, err)

	ok, err := c.Cancel(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Cancel(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok, "already closed")

	ok, err = c.Cancel(ctx, "never-opened")
	require.NoError(t, err)
	assert.False(t, ok)
}

// 测试目标操作在会话期间被下线时，会话无法继续并被取消。
func TestCollector_ActionVanished(t *testing.T) {
	c, cat := newTestCollector(t, nil, Config{})
	ctx := context.Background()

	session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: reminderAction()})
	require.NoError(t, err)

	cat.Unregister("reminder-add")

	out, err := c.Continue(ctx, session, "买牛奶")
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, StateCancelled, out.Session.State)
}

// 测试参数约束拒绝非法的回退赋值。
func TestCollector_FallbackRespectsConstraints(t *testing.T) {
	minLen := 2
	cat := catalog.NewMemoryCatalog()
	require.NoError(t, cat.Register(&catalog.ActionDefinition{
		ID:      "note-add",
		Name:    "记笔记",
		Enabled: true,
		Parameters: []catalog.ActionParameter{
			{
				Name:        "text",
				Type:        catalog.ParamTypeString,
				Required:    true,
				Constraints: &catalog.ParamConstraints{MinLength: &minLen},
			},
		},
	}))
	c := NewCollector(NewMemorySessionStore(), cat, nil, Config{})
	ctx := context.Background()

	action, _, err := cat.GetAction(ctx, "note-add")
	require.NoError(t, err)
	session, err := c.Begin(ctx, "conv-1", 0, &catalog.Match{Action: action})
	require.NoError(t, err)

	out, err := c.Continue(ctx, session, "短")
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.NotContains(t, out.Session.Collected, "text", "rejected value is not stored")

	out, err = c.Continue(ctx, out.Session, "今天的会议纪要")
	require.NoError(t, err)
	assert.True(t, out.Done)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"params": {}}`, `{"params": {}}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}
