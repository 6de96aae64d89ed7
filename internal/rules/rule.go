package rules

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/event"
)

var (
	// ErrDisabled marks a document that is not enabled
	ErrDisabled = errors.New("rule disabled")

	// ErrInvalidRule marks a document that is enabled but malformed
	ErrInvalidRule = errors.New("invalid rule")
)

// Rule is a validated rule document. Rules in a Cache snapshot are shared and
// must be treated as read-only.
type Rule struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Priority    float64        `json:"priority"`
	Logic       map[string]any `json:"logic"`
	RoutingSlip []StepRef      `json:"routingSlip"`
	Enrichments *Enrichments   `json:"enrichments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	expr logic.Node
}

// StepRef is a routing step as declared by a rule
type StepRef struct {
	ID          string         `json:"id"`
	V           string         `json:"v,omitempty"`
	NextTopic   string         `json:"nextTopic"`
	MaxAttempts int            `json:"maxAttempts,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Enrichments are the content changes applied by the first matching rule
type Enrichments struct {
	Message         *MessageTemplate   `json:"message,omitempty"`
	Annotations     []event.Annotation `json:"annotations,omitempty"`
	Candidates      []event.Candidate  `json:"candidates,omitempty"`
	Egress          *event.Egress      `json:"egress,omitempty"`
	RandomCandidate bool               `json:"randomCandidate,omitempty"`
}

// Templates returns every interpolated string of the enrichments
func (e *Enrichments) Templates() []string {
	if e == nil {
		return nil
	}
	var out []string
	if e.Message != nil {
		out = append(out, e.Message.Text)
	}
	for _, a := range e.Annotations {
		out = append(out, a.Label, a.Value)
	}
	for _, c := range e.Candidates {
		out = append(out, c.Text, c.Reason)
	}
	if e.Egress != nil {
		out = append(out, e.Egress.Destination)
	}
	return out
}

// MessageTemplate is the outbound message template. It accepts either a bare
// string or an object with a "text" field.
type MessageTemplate struct {
	Text string `json:"text"`
}

// UnmarshalJSON implements json.Unmarshaler
func (m *MessageTemplate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &m.Text)
	}
	type plain MessageTemplate
	return json.Unmarshal(data, (*plain)(m))
}

// Expression returns the compiled logic when available, otherwise the raw
// logic object
func (r *Rule) Expression() any {
	if r.expr != nil {
		return r.expr
	}
	return r.Logic
}

// Compile precompiles the rule logic with ev. A compile failure leaves the
// raw logic in place; it then evaluates to false.
func (r *Rule) Compile(ev *logic.Evaluator) error {
	node, err := ev.Compile(r.Logic)
	if err != nil {
		r.expr = nil
		return err
	}
	r.expr = node
	return nil
}

// Normalize validates a raw rule document. It returns ErrDisabled for
// documents whose "enabled" is not literally true, and an error wrapping
// ErrInvalidRule for enabled documents that are malformed.
func Normalize(id string, data map[string]any) (Rule, error) {
	if enabled, _ := data["enabled"].(bool); !enabled {
		return Rule{}, ErrDisabled
	}

	priority, ok := toFinite(data["priority"])
	if !ok {
		return Rule{}, fmt.Errorf("%w: priority must be a finite number", ErrInvalidRule)
	}

	logicObj, ok := data["logic"].(map[string]any)
	if !ok {
		return Rule{}, fmt.Errorf("%w: logic must be an object", ErrInvalidRule)
	}

	rawSlip, ok := toList(data["routingSlip"])
	if !ok {
		return Rule{}, fmt.Errorf("%w: routingSlip must be an array", ErrInvalidRule)
	}
	validSteps := make([]any, 0, len(rawSlip))
	for _, entry := range rawSlip {
		step, ok := toMap(entry)
		if !ok {
			continue
		}
		if _, ok := step["nextTopic"].(string); ok {
			validSteps = append(validSteps, step)
		}
	}
	// an empty slip is valid, a slip whose entries were all invalid is not.
	// An empty nextTopic is still a string; advancing onto it fails with
	// slip.ErrNoDestination.
	if len(rawSlip) > 0 && len(validSteps) == 0 {
		return Rule{}, fmt.Errorf("%w: routingSlip has no entry with a nextTopic", ErrInvalidRule)
	}

	doc := make(map[string]any, len(data))
	for k, v := range data {
		doc[k] = v
	}
	doc["routingSlip"] = validSteps

	// the remaining fields are decoded through JSON so that YAML and KV
	// sourced documents share one typed model
	encoded, err := json.Marshal(doc)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	var rule Rule
	if err := json.Unmarshal(encoded, &rule); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	rule.ID = id
	rule.Enabled = true
	rule.Priority = priority
	rule.Logic = logicObj
	if rule.RoutingSlip == nil {
		rule.RoutingSlip = []StepRef{}
	}

	return rule, nil
}

// Sort orders rules by ascending priority, then ascending id
func Sort(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func toFinite(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
