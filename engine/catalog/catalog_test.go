package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCatalog_RegisterAndGet(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	require.NoError(t, cat.Register(&ActionDefinition{ID: "a", Name: "查询天气", Enabled: true}))

	t.Run("get registered action", func(t *testing.T) {
		action, ok, err := cat.GetAction(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "查询天气", action.Name)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, ok, err := cat.GetAction(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("disabled action is invisible", func(t *testing.T) {
		require.NoError(t, cat.Register(&ActionDefinition{ID: "off", Name: "disabled", Enabled: false}))
		_, ok, err := cat.GetAction(ctx, "off")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("registration requires an id", func(t *testing.T) {
		assert.Error(t, cat.Register(&ActionDefinition{Name: "no id"}))
		assert.Error(t, cat.Register(nil))
	})
}

func TestMemoryCatalog_ListActions(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	require.NoError(t, cat.Register(&ActionDefinition{ID: "b", Priority: 1, Enabled: true}))
	require.NoError(t, cat.Register(&ActionDefinition{ID: "a", Priority: 1, Enabled: true}))
	require.NoError(t, cat.Register(&ActionDefinition{ID: "c", Priority: 5, Enabled: true}))
	require.NoError(t, cat.Register(&ActionDefinition{ID: "d", Enabled: false}))

	list, err := cat.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3, "disabled actions are filtered")

	assert.Equal(t, "c", list[0].ID, "highest priority first")
	assert.Equal(t, "a", list[1].ID, "equal priorities ordered by id")
	assert.Equal(t, "b", list[2].ID)
}

func TestMemoryCatalog_Unregister(t *testing.T) {
	cat := NewMemoryCatalog()

	require.NoError(t, cat.Register(&ActionDefinition{ID: "a", Enabled: true}))
	assert.True(t, cat.Unregister("a"))
	assert.False(t, cat.Unregister("a"))
}

func TestMemoryCatalog_SemanticMatchWithoutMatcher(t *testing.T) {
	cat := NewMemoryCatalog()

	matches, err := cat.SemanticMatch(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, matches, "nil matcher degrades to empty result, not error")
}

func TestActionDefinition_MissingRequired(t *testing.T) {
	action := &ActionDefinition{
		ID: "leave-request",
		Parameters: []ActionParameter{
			{Name: "start_date", Type: ParamTypeDate, Required: true},
			{Name: "days", Type: ParamTypeNumber, Required: true},
			{Name: "reason", Type: ParamTypeString, Required: false},
		},
	}

	testCases := []struct {
		name    string
		params  map[string]any
		missing []string
	}{
		{"all absent", nil, []string{"start_date", "days"}},
		{"one supplied", map[string]any{"days": 3}, []string{"start_date"}},
		{"blank string counts as absent", map[string]any{"start_date": "  ", "days": 3}, []string{"start_date"}},
		{"all supplied", map[string]any{"start_date": "2026-09-01", "days": 3}, nil},
		{"optional never missing", map[string]any{"start_date": "2026-09-01", "days": 3, "reason": ""}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.missing, action.MissingRequired(tc.params))
		})
	}
}

func TestActionParameter_Prompt(t *testing.T) {
	testCases := []struct {
		name     string
		param    ActionParameter
		expected string
	}{
		{"label preferred", ActionParameter{Name: "name", Label: "单位名称", Placeholder: "ignored"}, "请提供单位名称"},
		{"placeholder fallback", ActionParameter{Name: "name", Placeholder: "请输入单位名称"}, "请输入单位名称"},
		{"description fallback", ActionParameter{Name: "name", Description: "新单位的名称"}, "请提供新单位的名称"},
		{"generic fallback", ActionParameter{Name: "name"}, "请提供参数 name 的值"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.param.Prompt())
		})
	}
}

func TestActionParameter_ValidateValue(t *testing.T) {
	minLen, maxLen := 2, 4
	minVal, maxVal := 1.0, 30.0

	t.Run("nil constraints accept everything", func(t *testing.T) {
		p := ActionParameter{Name: "free"}
		assert.NoError(t, p.ValidateValue("anything"))
		assert.NoError(t, p.ValidateValue(nil))
	})

	t.Run("string length", func(t *testing.T) {
		p := ActionParameter{Name: "name", Constraints: &ParamConstraints{MinLength: &minLen, MaxLength: &maxLen}}
		assert.Error(t, p.ValidateValue("a"))
		assert.NoError(t, p.ValidateValue("千克"))
		assert.Error(t, p.ValidateValue("超过四个字符了"))
	})

	t.Run("numeric range", func(t *testing.T) {
		p := ActionParameter{Name: "days", Constraints: &ParamConstraints{Min: &minVal, Max: &maxVal}}
		assert.Error(t, p.ValidateValue(0))
		assert.NoError(t, p.ValidateValue(3))
		assert.Error(t, p.ValidateValue(31.5))
	})

	t.Run("enum membership", func(t *testing.T) {
		p := ActionParameter{Name: "type", Constraints: &ParamConstraints{Enum: []string{"annual", "sick"}}}
		assert.NoError(t, p.ValidateValue("sick"))
		assert.Error(t, p.ValidateValue("casual"))
	})

	t.Run("pattern", func(t *testing.T) {
		p := ActionParameter{Name: "date", Constraints: &ParamConstraints{Pattern: `^\d{4}-\d{2}-\d{2}$`}}
		assert.NoError(t, p.ValidateValue("2026-09-01"))
		assert.Error(t, p.ValidateValue("tomorrow"))
	})
}

func TestActionDefinition_Parameter(t *testing.T) {
	action := &ActionDefinition{
		Parameters: []ActionParameter{
			{Name: "a"},
			{Name: "b"},
		},
	}

	require.NotNil(t, action.Parameter("b"))
	assert.Equal(t, "b", action.Parameter("b").Name)
	assert.Nil(t, action.Parameter("missing"))
}
