package logic

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-chat-router/internal/eval/cel"
	"github.com/aescanero/dago-chat-router/internal/event"
)

func testEnvelope() *event.Envelope {
	return &event.Envelope{
		CorrelationID: "c-1",
		Type:          "chat.message.v1",
		Identity: &event.Identity{User: &event.User{
			ID:    "u-1",
			Login: "ada",
			Roles: []string{"Mod", "vip"},
		}},
		Message:     &event.Message{Text: "!Ping the bot"},
		Annotations: []event.Annotation{{Label: "intent", Value: "ping"}},
		Candidates:  []event.Candidate{{Source: "llm", Text: "pong"}},
		RoutingSlip: []event.RoutingStep{
			{ID: "a", Status: event.StatusOK},
			{ID: "b", Status: event.StatusPending},
		},
		Metadata: map[string]any{"count": 3},
	}
}

// expr parses a JSON expression for readability in tables
func expr(t *testing.T, src string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(src), &v))
	return v
}

func TestBuildContext_Deterministic(t *testing.T) {
	evt := testEnvelope()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	a := BuildContext(evt, WithClock(clock), WithConfig(map[string]any{"prefix": "!"}))
	b := BuildContext(evt, WithClock(clock), WithConfig(map[string]any{"prefix": "!"}))
	assert.Equal(t, a.Data(), b.Data())

	now, ok := a.Get("now")
	require.True(t, ok)
	assert.Equal(t, "2026-01-02T03:04:05.006Z", now)

	ts, _ := a.Get("ts")
	assert.Equal(t, float64(clock.UnixMilli()), ts)

	prefix, _ := a.Get("config.prefix")
	assert.Equal(t, "!", prefix)

	role, ok := a.Get("identity.user.roles.1")
	require.True(t, ok)
	assert.Equal(t, "vip", role)

	_, ok = a.Get("identity.user.missing")
	assert.False(t, ok)
}

func TestBuildContext_Overrides(t *testing.T) {
	ctx := BuildContext(nil, WithNow("2020-01-01T00:00:00.000Z"), WithTS(7))

	now, _ := ctx.Get("now")
	ts, _ := ctx.Get("ts")
	assert.Equal(t, "2020-01-01T00:00:00.000Z", now)
	assert.Equal(t, float64(7), ts)

	annotations, ok := ctx.Get("annotations")
	require.True(t, ok)
	assert.Empty(t, annotations)
}

func TestEvaluator_StandardOperators(t *testing.T) {
	ev := NewEvaluator()
	ctx := BuildContext(testEnvelope(), WithTS(1000))

	tests := []struct {
		name     string
		logic    string
		expected bool
	}{
		{"loose equality", `{"==": [{"var": "metadata.count"}, "3"]}`, true},
		{"strict equality", `{"===": [{"var": "metadata.count"}, "3"]}`, false},
		{"not equal", `{"!=": [{"var": "type"}, "other"]}`, true},
		{"negation", `{"!": [{"var": "missing.path"}]}`, true},
		{"double negation", `{"!!": [{"var": "annotations"}]}`, true},
		{"and", `{"and": [true, {"var": "type"}, false]}`, false},
		{"or", `{"or": [{"var": "nope"}, {"var": "type"}]}`, true},
		{"greater", `{">": [{"var": "ts"}, 999]}`, true},
		{"between", `{"<": [1, {"var": "metadata.count"}, 5]}`, true},
		{"between inclusive", `{"<=": [3, {"var": "metadata.count"}, 3]}`, true},
		{"arithmetic", `{"==": [{"+": [1, {"*": [2, 3]}, {"-": [4, 2]}]}, 9]}`, true},
		{"modulo", `{"==": [{"%": [10, 3]}, 1]}`, true},
		{"min max", `{"==": [{"max": [1, {"min": [7, 5]}]}, 5]}`, true},
		{"in string", `{"in": ["Ping", {"var": "message.text"}]}`, true},
		{"in array", `{"in": ["vip", {"var": "identity.user.roles"}]}`, true},
		{"cat", `{"==": [{"cat": ["a", 1, null]}, "a1"]}`, true},
		{"substr", `{"==": [{"substr": [{"var": "message.text"}, 1, 4]}, "Ping"]}`, true},
		{"substr negative", `{"==": [{"substr": ["mustache", -4]}, "ache"]}`, true},
		{"if", `{"if": [{"var": "nope"}, false, {"var": "type"}, true, false]}`, true},
		{"var default", `{"==": [{"var": ["nope", "fallback"]}, "fallback"]}`, true},
		{"missing", `{"==": [{"cat": {"missing": ["type", "nope"]}}, "nope"]}`, true},
		{"missing some", `{"!": {"missing_some": [1, ["type", "nope"]]}}`, true},
		{"some", `{"some": [{"var": "annotations"}, {"==": [{"var": "label"}, "intent"]}]}`, true},
		{"all", `{"all": [{"var": "routingSlip"}, {"==": [{"var": "status"}, "OK"]}]}`, false},
		{"all empty", `{"all": [[], true]}`, false},
		{"none", `{"none": [{"var": "candidates"}, {"==": [{"var": "source"}, "rule"]}]}`, true},
		{"filter and map", `{"==": [{"cat": {"map": [{"filter": [{"var": "routingSlip"}, {"==": [{"var": "status"}, "PENDING"]}]}, {"var": "id"}]}}, "b"]}`, true},
		{"reduce", `{"==": [{"reduce": [[1, 2, 3], {"+": [{"var": "current"}, {"var": "accumulator"}]}, 0]}, 6]}`, true},
		{"merge", `{"==": [{"cat": {"merge": [[1], 2, [3]]}}, "1,2,3"]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ev.Evaluate(expr(t, tt.logic), ctx))
		})
	}
}

func TestEvaluator_DomainOperators(t *testing.T) {
	ev := NewEvaluator()
	ctx := BuildContext(testEnvelope())

	tests := []struct {
		name     string
		logic    string
		expected bool
	}{
		{"ci_eq literal", `{"ci_eq": ["!Ping", "!ping"]}`, true},
		{"ci_eq differs", `{"ci_eq": ["!Ping", "!pong"]}`, false},
		{"ci_eq null is empty", `{"ci_eq": [{"var": "nope"}, ""]}`, true},
		{"ci_eq stringifies", `{"ci_eq": [3, "3"]}`, true},
		{"re_test", `{"re_test": [{"var": "message.text"}, "^!ping"]}`, false},
		{"re_test flags", `{"re_test": [{"var": "message.text"}, ["^!ping", "i"]]}`, true},
		{"re_test invalid pattern", `{"re_test": ["abc", "("]}`, false},
		{"has_role exact", `{"has_role": [{"var": "identity.user.roles"}, "vip"]}`, true},
		{"has_role case sensitive", `{"has_role": [{"var": "identity.user.roles"}, "mod"]}`, false},
		{"has_role case folded", `{"has_role": [{"var": "identity.user.roles"}, "mod", true]}`, true},
		{"has_role not a list", `{"has_role": [{"var": "type"}, "mod"]}`, false},
		{"has_annotation label", `{"has_annotation": [{"var": "annotations"}, "intent"]}`, true},
		{"has_annotation value", `{"has_annotation": [{"var": "annotations"}, "intent", "ping"]}`, true},
		{"has_annotation wrong value", `{"has_annotation": [{"var": "annotations"}, "intent", "pong"]}`, false},
		{"has_candidate", `{"has_candidate": [{"var": "candidates"}]}`, true},
		{"has_candidate source", `{"has_candidate": [{"var": "candidates"}, "llm"]}`, true},
		{"has_candidate other source", `{"has_candidate": [{"var": "candidates"}, "rule"]}`, false},
		{"has_candidate empty", `{"has_candidate": [{"var": "nope"}]}`, false},
		{"text_contains case sensitive", `{"text_contains": ["Hello World", "world"]}`, false},
		{"text_contains folded", `{"text_contains": ["Hello World", "world", true]}`, true},
		{"slip_complete pending", `{"slip_complete": [{"var": "routingSlip"}]}`, false},
		{"slip_complete empty", `{"slip_complete": [[]]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ev.Evaluate(expr(t, tt.logic), ctx))
		})
	}
}

func TestEvaluator_SlipComplete(t *testing.T) {
	ev := NewEvaluator()
	logic := expr(t, `{"slip_complete": [{"var": "routingSlip"}]}`)

	evt := &event.Envelope{RoutingSlip: []event.RoutingStep{
		{ID: "a", Status: event.StatusOK},
		{ID: "b", Status: event.StatusOK},
	}}
	assert.True(t, ev.Evaluate(logic, BuildContext(evt)))

	evt.RoutingSlip[1].Status = event.StatusSkip
	assert.False(t, ev.Evaluate(logic, BuildContext(evt)))
}

func TestEvaluator_NeverFails(t *testing.T) {
	ev := NewEvaluator()
	ctx := BuildContext(testEnvelope())

	tests := []struct {
		name     string
		logic    any
		expected bool
	}{
		{"nil", nil, false},
		{"number", 42.0, false},
		{"literal true", true, true},
		{"literal false", false, false},
		{"string true", "true", true},
		{"other string", "yes", false},
		{"unknown operator", expr(t, `{"nope": [1]}`), false},
		{"nested unknown operator", expr(t, `{"and": [true, {"nope": [1]}]}`), false},
		{"cel disabled", expr(t, `{"cel": "true"}`), false},
		{"array", []any{true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.expected, ev.Evaluate(tt.logic, ctx))
			})
		})
	}

	_, err := ev.Matches(expr(t, `{"nope": [1]}`), ctx)
	assert.ErrorContains(t, err, "unknown operator")
}

func TestEvaluator_CELOperator(t *testing.T) {
	ev := NewEvaluator(WithCEL(cel.NewEvaluator()))
	ctx := BuildContext(testEnvelope())

	assert.True(t, ev.Evaluate(expr(t, `{"cel": "message.text.startsWith('!Ping') && 'vip' in identity.user.roles"}`), ctx))
	assert.False(t, ev.Evaluate(expr(t, `{"cel": "eventType == 'other'"}`), ctx))
	assert.False(t, ev.Evaluate(expr(t, `{"cel": "eventType =="}`), ctx))
	assert.False(t, ev.Evaluate(expr(t, `{"cel": 3}`), ctx))

	_, err := ev.Compile(expr(t, `{"cel": "eventType =="}`))
	assert.ErrorContains(t, err, "cel")
	_, err = ev.Compile(expr(t, `{"and": [true, {"cel": "eventType == 'x'"}]}`))
	assert.NoError(t, err)
}

func TestEvaluator_CompiledNode(t *testing.T) {
	ev := NewEvaluator()

	node, err := ev.Compile(map[string]any{"==": []any{map[string]any{"var": "type"}, "chat.message.v1"}})
	require.NoError(t, err)
	assert.True(t, ev.Evaluate(node, BuildContext(testEnvelope())))

	_, err = ev.Compile(map[string]any{"bogus": 1})
	assert.Error(t, err)

	value, err := ev.Apply(map[string]any{"+": []any{1, 2}}, BuildContext(nil))
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
}

func TestBuildContext_ReportsProjectionErrors(t *testing.T) {
	ctx := BuildContext(testEnvelope())
	assert.NoError(t, ctx.Err())

	evt := testEnvelope()
	evt.Payload = map[string]any{"score": math.NaN()}
	ctx = BuildContext(evt, WithConfig(map[string]any{"bad": func() {}}))
	require.Error(t, ctx.Err())
	assert.Contains(t, ctx.Err().Error(), "event")
	assert.Contains(t, ctx.Err().Error(), "config")

	// the rest of the context is still usable
	_, ok := ctx.Get("type")
	assert.False(t, ok)
	assert.Empty(t, ctx.Data()["config"])
	_, ok = ctx.Get("now")
	assert.True(t, ok)
}
