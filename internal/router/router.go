package router

import (
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/eval/template"
	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/rules"
)

const (
	// DefaultDeadLetterTopic receives events no rule matched
	DefaultDeadLetterTopic = "internal.deadletter.v1"

	// DefaultEgressTopic is selected when the matched rule has no hops
	DefaultEgressTopic = "internal.egress.v1"

	// DeadLetterStepID names the synthesized step of an unmatched event
	DeadLetterStepID = "deadletter"
)

// ErrNilEvent is returned when Route is called without an event
var ErrNilEvent = errors.New("event is nil")

// StateStore remembers the last candidate chosen per user and rule
type StateStore interface {
	GetLastCandidateID(ctx context.Context, userID, ruleID string) (string, error)
	UpdateLastCandidateID(ctx context.Context, userID, ruleID, candidateID string) error
}

// Decision describes the routing outcome
type Decision struct {
	Matched        bool     `json:"matched"`
	RuleID         string   `json:"ruleId,omitempty"`
	MatchedRuleIDs []string `json:"matchedRuleIds"`
	SelectedTopic  string   `json:"selectedTopic"`
}

// Result is returned by Route
type Result struct {
	Slip     []event.RoutingStep `json:"slip"`
	Decision Decision            `json:"decision"`
	Event    *event.Envelope     `json:"evtOut"`
}

// Engine routes events against a rule set
type Engine struct {
	evaluator       *logic.Evaluator
	templates       *template.Engine
	state           StateStore
	logger          *zap.Logger
	deadLetterTopic string
	egressTopic     string
	now             func() time.Time
	intn            func(n int) int
}

// Option configures an Engine
type Option func(*Engine)

// WithStateStore enables anti-repeat candidate selection
func WithStateStore(store StateStore) Option {
	return func(e *Engine) { e.state = store }
}

// WithDeadLetterTopic sets the topic of unmatched events
func WithDeadLetterTopic(topic string) Option {
	return func(e *Engine) { e.deadLetterTopic = topic }
}

// WithEgressTopic sets the topic selected by rules with an empty slip
func WithEgressTopic(topic string) Option {
	return func(e *Engine) { e.egressTopic = topic }
}

// WithTemplates replaces the template engine
func WithTemplates(templates *template.Engine) Option {
	return func(e *Engine) { e.templates = templates }
}

// WithClock fixes the time exposed to expressions as now and ts
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandom replaces the source used to pick a random candidate. intn must
// return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(e *Engine) { e.intn = intn }
}

// NewEngine creates a rule engine
func NewEngine(evaluator *logic.Evaluator, logger *zap.Logger, opts ...Option) *Engine {
	if evaluator == nil {
		evaluator = logic.NewEvaluator()
	}
	e := &Engine{
		evaluator:       evaluator,
		logger:          logger,
		deadLetterTopic: DefaultDeadLetterTopic,
		egressTopic:     DefaultEgressTopic,
		now:             time.Now,
		intn:            rand.IntN,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.templates == nil {
		e.templates = template.NewEngine()
	}
	return e
}

// Route evaluates ruleSet against evt. ruleSet must already be in cache
// order. cfg is exposed to expressions as the "config" variable.
func (e *Engine) Route(ctx context.Context, evt *event.Envelope, ruleSet []rules.Rule, cfg map[string]any) (*Result, error) {
	if evt == nil {
		return nil, ErrNilEvent
	}

	evalCtx := logic.BuildContext(evt, logic.WithClock(e.now()), logic.WithConfig(cfg))
	if err := evalCtx.Err(); err != nil {
		e.logger.Warn("incomplete evaluation context",
			zap.String("correlation_id", evt.CorrelationID),
			zap.Error(err),
		)
	}

	var chosen *rules.Rule
	matched := make([]string, 0, 1)
	for i := range ruleSet {
		rule := &ruleSet[i]
		ok, err := e.evaluator.Matches(rule.Expression(), evalCtx)
		if err != nil {
			e.logger.Warn("rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("correlation_id", evt.CorrelationID),
				zap.Error(err),
			)
			continue
		}

		e.logger.Debug("rule evaluated",
			zap.String("rule_id", rule.ID),
			zap.Bool("matched", ok),
		)
		if !ok {
			continue
		}
		matched = append(matched, rule.ID)
		if chosen == nil {
			chosen = rule
		}
	}

	out := evt.Clone()
	res := &Result{Event: out}
	res.Decision.MatchedRuleIDs = matched

	if chosen == nil {
		res.Slip = e.deadLetterSlip()
		res.Decision.SelectedTopic = e.deadLetterTopic
		out.SetMetadata("chosenRuleId", nil)
	} else {
		res.Slip = buildSlip(chosen.RoutingSlip)
		res.Decision.Matched = true
		res.Decision.RuleID = chosen.ID
		if len(res.Slip) > 0 {
			res.Decision.SelectedTopic = res.Slip[0].NextTopic
		} else {
			res.Decision.SelectedTopic = e.egressTopic
		}
		e.enrich(ctx, out, chosen, evalCtx)
		out.SetMetadata("chosenRuleId", chosen.ID)
	}

	out.SetMetadata("matchedRuleIds", slices.Clone(matched))
	out.RoutingSlip = res.Slip

	e.logger.Info("routing decision",
		zap.String("correlation_id", evt.CorrelationID),
		zap.Bool("matched", res.Decision.Matched),
		zap.String("rule_id", res.Decision.RuleID),
		zap.Strings("matched_rule_ids", matched),
		zap.String("topic", res.Decision.SelectedTopic),
	)

	return res, nil
}

func (e *Engine) deadLetterSlip() []event.RoutingStep {
	return []event.RoutingStep{{
		ID:          DeadLetterStepID,
		V:           event.DefaultStepVersion,
		Status:      event.StatusPending,
		Attempt:     0,
		MaxAttempts: event.DefaultMaxAttempts,
		NextTopic:   e.deadLetterTopic,
	}}
}

// buildSlip maps rule step references to fresh PENDING steps
func buildSlip(refs []rules.StepRef) []event.RoutingStep {
	slip := make([]event.RoutingStep, 0, len(refs))
	for _, ref := range refs {
		step := event.RoutingStep{
			ID:          ref.ID,
			V:           ref.V,
			Status:      event.StatusPending,
			MaxAttempts: ref.MaxAttempts,
			NextTopic:   ref.NextTopic,
			Attributes:  maps.Clone(ref.Attributes),
		}
		if step.V == "" {
			step.V = event.DefaultStepVersion
		}
		if step.MaxAttempts <= 0 {
			step.MaxAttempts = event.DefaultMaxAttempts
		}
		slip = append(slip, step)
	}
	return slip
}
