package cel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EvaluateBool(t *testing.T) {
	evaluator := NewEvaluator()

	vars := map[string]interface{}{
		"type": "chat.message.v1",
		"message": map[string]interface{}{
			"text": "!ping now",
		},
		"identity": map[string]interface{}{
			"user": map[string]interface{}{
				"roles": []interface{}{"mod", "vip"},
			},
		},
		"ts": float64(1000),
	}

	tests := []struct {
		name       string
		expression string
		expected   bool
		wantErr    bool
	}{
		{name: "event type", expression: "eventType == 'chat.message.v1'", expected: true},
		{name: "string function", expression: "message.text.startsWith('!ping')", expected: true},
		{name: "list membership", expression: "'mod' in identity.user.roles", expected: true},
		{name: "numeric", expression: "ts > 999.0", expected: true},
		{name: "false branch", expression: "eventType == 'other'", expected: false},
		{name: "type builtin is not shadowed", expression: "type(ts) == double", expected: true},
		{name: "non boolean", expression: "message.text", wantErr: true},
		{name: "syntax error", expression: "eventType ==", wantErr: true},
		{name: "undeclared variable", expression: "unknown == 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.EvaluateBool(tt.expression, vars)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluator_ProgramCache(t *testing.T) {
	evaluator := NewEvaluator(WithProgramCacheSize(2))

	_, err := evaluator.Evaluate("true", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, evaluator.Cached())

	_, err = evaluator.Evaluate("true", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, evaluator.Cached())

	require.NoError(t, evaluator.Check("ts > 1.0"))
	require.NoError(t, evaluator.Check("ts < 1.0"))
	assert.Equal(t, 2, evaluator.Cached(), "cache is bounded")

	assert.Error(t, evaluator.Check("ts >"))
	assert.Equal(t, 2, evaluator.Cached(), "failed compiles are not cached")
}

func TestEvaluator_MissingVariablesAreNull(t *testing.T) {
	evaluator := NewEvaluator()

	ok, err := evaluator.EvaluateBool("config == null", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, ok)
}
