package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/rules"
	"github.com/aescanero/dago-chat-router/internal/store/natskv"
)

const rulesYAML = `
rules:
  - id: greet
    enabled: true
    priority: 10
    logic:
      "==": [{var: message.text}, "hi"]
    routingSlip:
      - id: reply
        nextTopic: chat.reply
    enrichments:
      message:
        text: "hello {{identity.user.login}}"
  - id: fallback
    enabled: true
    priority: 100
    logic:
      "==": [1, 1]
    routingSlip:
      - id: llm
        nextTopic: chat.llm
  - id: off
    enabled: false
    priority: 1
    logic: {}
    routingSlip: []
`

const eventJSON = `{
  "correlationId": "c-1",
  "type": "chat.message.v1",
  "identity": {"user": {"id": "u1", "login": "ana"}},
  "message": {"text": "hi"}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"validate", "push", "route", "forget"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	path := writeFile(t, "rules.yaml", rulesYAML)
	_, err := execute(t, "validate", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadRuleDocuments(t *testing.T) {
	t.Run("wrapped yaml", func(t *testing.T) {
		docs, err := LoadRuleDocuments(writeFile(t, "rules.yaml", rulesYAML))
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "greet", docs[0].ID)
		assert.NotContains(t, docs[0].Data, "id")
		// numbers follow the JSON model
		assert.Equal(t, float64(10), docs[0].Data["priority"])
	})

	t.Run("bare json list", func(t *testing.T) {
		docs, err := LoadRuleDocuments(writeFile(t, "rules.json",
			`[{"id":"a","enabled":true,"priority":1,"logic":{},"routingSlip":[]}]`))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := LoadRuleDocuments(writeFile(t, "rules.yaml", "- enabled: true\n"))
		assert.ErrorContains(t, err, "missing string id")
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := LoadRuleDocuments(writeFile(t, "rules.yaml", "- id: a\n- id: a\n"))
		assert.ErrorContains(t, err, "duplicate id")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRuleDocuments(filepath.Join(t.TempDir(), "none.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	docs := []rules.Document{
		{ID: "ok", Data: map[string]any{"enabled": true, "priority": 1.0, "logic": map[string]any{"==": []any{1.0, 1.0}}, "routingSlip": []any{}}},
		{ID: "off", Data: map[string]any{"enabled": false}},
		{ID: "bad-priority", Data: map[string]any{"enabled": true, "priority": "high", "logic": map[string]any{}, "routingSlip": []any{}}},
		{ID: "bad-op", Data: map[string]any{"enabled": true, "priority": 1.0, "logic": map[string]any{"nope": []any{1.0}}, "routingSlip": []any{}}},
		{ID: "bad-cel", Data: map[string]any{"enabled": true, "priority": 1.0, "logic": map[string]any{"cel": "eventType =="}, "routingSlip": []any{}}},
		{ID: "bad-template", Data: map[string]any{
			"enabled": true, "priority": 1.0, "logic": map[string]any{"==": []any{1.0, 1.0}}, "routingSlip": []any{},
			"enrichments": map[string]any{"message": "{{#if x}}open"},
		}},
	}

	result := Validate(docs)
	assert.False(t, result.Valid)
	require.Len(t, result.Rules, 6)
	assert.Equal(t, StatusValid, result.Rules[0].Status)
	assert.Equal(t, StatusDisabled, result.Rules[1].Status)
	assert.Equal(t, StatusInvalid, result.Rules[2].Status)
	assert.Contains(t, result.Rules[2].Error, "priority")
	assert.Equal(t, StatusInvalid, result.Rules[3].Status)
	assert.Contains(t, result.Rules[3].Error, "unknown operator")
	assert.Equal(t, StatusInvalid, result.Rules[4].Status)
	assert.Contains(t, result.Rules[4].Error, "cel")
	assert.Equal(t, StatusValid, result.Rules[5].Status)
	require.Len(t, result.Rules[5].Warnings, 1)
	assert.Contains(t, result.Rules[5].Warnings[0], "{{#if x}}open")
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		out, err := execute(t, "validate", writeFile(t, "rules.yaml", rulesYAML))
		require.NoError(t, err)
		assert.Contains(t, out, "valid    greet")
		assert.Contains(t, out, "disabled off")
	})

	t.Run("json output", func(t *testing.T) {
		out, err := execute(t, "validate", "--format", "json", writeFile(t, "rules.yaml", rulesYAML))
		require.NoError(t, err)
		var result ValidationResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.True(t, result.Valid)
		assert.Len(t, result.Rules, 3)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := writeFile(t, "rules.yaml", "- id: x\n  enabled: true\n  priority: 1\n  logic: 3\n  routingSlip: []\n")
		out, err := execute(t, "validate", path)
		assert.ErrorIs(t, err, ErrInvalidRules)
		assert.Contains(t, out, "invalid  x: ")
	})
}

func TestRouteCommand(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", rulesYAML)

	t.Run("matched", func(t *testing.T) {
		out, err := execute(t, "route", "--rules", rulesPath, "--event", writeFile(t, "event.json", eventJSON))
		require.NoError(t, err)
		assert.Contains(t, out, "matched  greet")
		assert.Contains(t, out, "topic    chat.reply")
		assert.Contains(t, out, "all      greet, fallback")
		assert.Contains(t, out, "message  hello ana")
	})

	t.Run("json output", func(t *testing.T) {
		evt := writeFile(t, "event.yaml", "correlationId: c-2\ntype: chat.message.v1\nmessage:\n  text: other\n")
		out, err := execute(t, "route", "--format", "json", "--rules", rulesPath, "--event", evt)
		require.NoError(t, err)

		var res struct {
			Decision struct {
				Matched       bool   `json:"matched"`
				RuleID        string `json:"ruleId"`
				SelectedTopic string `json:"selectedTopic"`
			} `json:"decision"`
			Slip []struct {
				ID string `json:"id"`
			} `json:"slip"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.True(t, res.Decision.Matched)
		assert.Equal(t, "fallback", res.Decision.RuleID)
		assert.Equal(t, "chat.llm", res.Decision.SelectedTopic)
		require.Len(t, res.Slip, 1)
		assert.Equal(t, "llm", res.Slip[0].ID)
	})

	t.Run("config is exposed", func(t *testing.T) {
		cfgRules := writeFile(t, "rules.yaml", `
- id: prod-only
  enabled: true
  priority: 1
  logic:
    "==": [{var: config.env}, "prod"]
  routingSlip:
    - id: s
      nextTopic: prod.topic
`)
		evt := writeFile(t, "event.json", eventJSON)
		res, err := DryRun(context.Background(), &RouteOptions{
			RulesFile: cfgRules,
			EventFile: evt,
			Config:    map[string]string{"env": "prod"},
		})
		require.NoError(t, err)
		assert.Equal(t, "prod-only", res.Decision.RuleID)

		res, err = DryRun(context.Background(), &RouteOptions{RulesFile: cfgRules, EventFile: evt})
		require.NoError(t, err)
		assert.False(t, res.Decision.Matched)
	})

	t.Run("cel rule", func(t *testing.T) {
		celRules := writeFile(t, "rules.yaml", `
- id: cel-greet
  enabled: true
  priority: 1
  logic:
    cel: "eventType == 'chat.message.v1' && message.text == 'hi'"
  routingSlip:
    - id: s
      nextTopic: cel.topic
`)
		assert.True(t, func() bool {
			docs, err := LoadRuleDocuments(celRules)
			require.NoError(t, err)
			return Validate(docs).Valid
		}())

		res, err := DryRun(context.Background(), &RouteOptions{
			RulesFile: celRules,
			EventFile: writeFile(t, "event.json", eventJSON),
		})
		require.NoError(t, err)
		assert.Equal(t, "cel-greet", res.Decision.RuleID)
	})

	t.Run("required flags", func(t *testing.T) {
		_, err := execute(t, "route", "--rules", rulesPath)
		assert.Error(t, err)
	})
}

func runJetStream(t *testing.T) (string, jetstream.JetStream) {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(10*time.Second), "nats server not ready")
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return srv.ClientURL(), js
}

func TestPush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, js := runJetStream(t)
	store, err := natskv.Open(ctx, js, "ROUTER_RULES", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "rules", "stale", map[string]any{"enabled": false}))

	docs, err := LoadRuleDocuments(writeFile(t, "rules.yaml", rulesYAML))
	require.NoError(t, err)

	result, err := Push(ctx, store, "rules", docs, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"greet", "fallback", "off"}, result.Pushed)
	assert.Empty(t, result.Pruned)

	stored, err := store.Collection("rules").Get(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	result, err = Push(ctx, store, "rules", docs, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, result.Pruned)

	stored, err = store.Collection("rules").Get(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestPushCommand(t *testing.T) {
	url, js := runJetStream(t)
	path := writeFile(t, "rules.yaml", rulesYAML)

	out, err := execute(t, "push", path, "--nats-url", url, "--bucket", "RULES_CLI")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed   greet")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := natskv.Open(ctx, js, "RULES_CLI", zap.NewNop())
	require.NoError(t, err)
	stored, err := store.Collection("rules").Get(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	t.Run("refuses invalid rules", func(t *testing.T) {
		bad := writeFile(t, "bad.yaml", "- id: x\n  enabled: true\n  priority: nope\n")
		_, err := execute(t, "push", bad, "--nats-url", url)
		assert.ErrorIs(t, err, ErrInvalidRules)
	})
}

func TestForgetCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("router:lastcand:greet:u1", "cand-0"))
	require.NoError(t, mr.Set("router:lastcand:greet:u2", "cand-1"))

	out, err := execute(t, "forget", "--redis-addr", mr.Addr(), "--rule", "greet", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "forgotten greet/u1")
	assert.False(t, mr.Exists("router:lastcand:greet:u1"))
	assert.True(t, mr.Exists("router:lastcand:greet:u2"))

	t.Run("requires rule and user", func(t *testing.T) {
		_, err := execute(t, "forget", "--redis-addr", mr.Addr(), "--rule", "greet")
		assert.Error(t, err)
	})
}
