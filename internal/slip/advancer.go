package slip

import (
	"context"
	"errors"
	"fmt"
	"time"
	"weak"

	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/idempotency"
)

var (
	// ErrMissingCorrelationID is a non-retryable defect: every envelope
	// must carry a correlation id before it can be advanced
	ErrMissingCorrelationID = errors.New("envelope has no correlation id")

	// ErrDuplicateAdvance reports that this envelope was already advanced
	// within the idempotency window
	ErrDuplicateAdvance = errors.New("envelope already advanced")

	// ErrNoDestination reports that neither a step topic nor an egress
	// destination is available
	ErrNoDestination = errors.New("no destination for envelope")

	// ErrAttemptsExhausted reports a failed step that has no attempts left
	// and no dead-letter route configured
	ErrAttemptsExhausted = errors.New("step attempts exhausted")
)

// GuardKey identifies an envelope in the idempotency guard without keeping it
// reachable
type GuardKey = weak.Pointer[event.Envelope]

// NewGuard creates an idempotency guard for envelopes
func NewGuard(size int, window time.Duration) *idempotency.Guard[GuardKey] {
	return idempotency.New[GuardKey](size, window)
}

// Publisher publishes an envelope to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, evt *event.Envelope, attrs map[string]string) (string, error)
}

// DeadLetterFunc builds the dead-letter envelope for evt
type DeadLetterFunc func(evt *event.Envelope, reason string, cause any, lastStepID string) *event.Envelope

// Publication describes what an advancement published
type Publication struct {
	Topic      string
	MessageID  string
	StepID     string
	Retry      bool
	DeadLetter bool
}

// Advancer moves envelopes along their routing slip
type Advancer struct {
	publisher       Publisher
	logger          *zap.Logger
	guard           *idempotency.Guard[GuardKey]
	source          string
	egressTopic     string
	deadLetterTopic string
	deadLetter      DeadLetterFunc
	now             func() time.Time
}

// Option configures an Advancer
type Option func(*Advancer)

// WithSource sets the "source" attribute of published messages
func WithSource(source string) Option {
	return func(a *Advancer) { a.source = source }
}

// WithEgressTopic sets the topic used when an envelope is delivered and has
// no egress destination of its own
func WithEgressTopic(topic string) Option {
	return func(a *Advancer) { a.egressTopic = topic }
}

// WithDeadLetter routes exhausted steps to topic through build
func WithDeadLetter(topic string, build DeadLetterFunc) Option {
	return func(a *Advancer) {
		a.deadLetterTopic = topic
		a.deadLetter = build
	}
}

// WithGuard replaces the default idempotency guard
func WithGuard(guard *idempotency.Guard[GuardKey]) Option {
	return func(a *Advancer) { a.guard = guard }
}

// WithClock overrides the time source used for step timestamps
func WithClock(now func() time.Time) Option {
	return func(a *Advancer) { a.now = now }
}

// NewAdvancer creates an Advancer publishing through publisher
func NewAdvancer(publisher Publisher, logger *zap.Logger, opts ...Option) *Advancer {
	a := &Advancer{
		publisher: publisher,
		logger:    logger,
		source:    "router",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.guard == nil {
		a.guard = NewGuard(idempotency.DefaultSize, idempotency.DefaultWindow)
	}
	return a
}

// Advance optionally records status on the current step and publishes evt to
// the next actionable step, or to egress once the slip is drained. A step
// recorded as ERROR is retried while it has attempts left. An empty status
// publishes without recording a result.
//
// On error the slip of evt is left as it was before the call, so the same
// call can be repeated.
func (a *Advancer) Advance(ctx context.Context, evt *event.Envelope, status event.StepStatus) (*Publication, error) {
	return a.guarded(evt, func() (*Publication, error) {
		return a.advance(ctx, evt, status, nil)
	})
}

// Fail records cause as an ERROR result on the current step and advances
func (a *Advancer) Fail(ctx context.Context, evt *event.Envelope, cause error) (*Publication, error) {
	stepErr := &event.StepError{Code: "STEP_FAILED"}
	if cause != nil {
		stepErr.Message = cause.Error()
	}
	return a.guarded(evt, func() (*Publication, error) {
		return a.advance(ctx, evt, event.StatusError, stepErr)
	})
}

// Complete optionally records status on the current step and publishes evt
// straight to egress, bypassing any remaining steps
func (a *Advancer) Complete(ctx context.Context, evt *event.Envelope, status event.StepStatus) (*Publication, error) {
	return a.guarded(evt, func() (*Publication, error) {
		slip := EnsureSlip(evt)
		if status != "" {
			if i := FindNextActionable(slip); i >= 0 {
				MarkStepResult(slip, i, status, nil, a.now())
			}
		}
		topic, err := a.egressFor(evt)
		if err != nil {
			return nil, err
		}
		return a.publish(ctx, evt, &Publication{Topic: topic})
	})
}

// guarded runs fn under the idempotency claim of evt. When fn fails the claim
// is released and the slip is restored.
func (a *Advancer) guarded(evt *event.Envelope, fn func() (*Publication, error)) (*Publication, error) {
	if err := a.claim(evt); err != nil {
		return nil, err
	}
	saved := event.CloneSlip(evt.RoutingSlip)

	pub, err := fn()
	if err != nil {
		evt.RoutingSlip = saved
		a.guard.Release(weak.Make(evt))
		return nil, err
	}
	return pub, nil
}

func (a *Advancer) advance(ctx context.Context, evt *event.Envelope, status event.StepStatus, stepErr *event.StepError) (*Publication, error) {
	slip := EnsureSlip(evt)
	if status != "" {
		if i := FindNextActionable(slip); i >= 0 {
			MarkStepResult(slip, i, status, stepErr, a.now())
		}
	}

	next := FindNextActionable(slip)
	if next < 0 {
		topic, err := a.egressFor(evt)
		if err != nil {
			return nil, err
		}
		return a.publish(ctx, evt, &Publication{Topic: topic})
	}

	step := &slip[next]
	if step.Status == event.StatusError {
		if step.Attempt+1 >= step.MaxAttempts {
			return a.exhausted(ctx, evt, step)
		}
		step.Attempt++
		step.Status = event.StatusPending
		step.EndedAt = ""
		a.logger.Info("retrying routing step",
			zap.String("correlation_id", evt.CorrelationID),
			zap.String("step_id", step.ID),
			zap.Int("attempt", step.Attempt),
		)
		return a.publish(ctx, evt, &Publication{Topic: step.NextTopic, StepID: step.ID, Retry: true})
	}

	if step.NextTopic == "" {
		return nil, fmt.Errorf("%w: step %s has no nextTopic", ErrNoDestination, step.ID)
	}
	return a.publish(ctx, evt, &Publication{Topic: step.NextTopic, StepID: step.ID})
}

func (a *Advancer) exhausted(ctx context.Context, evt *event.Envelope, step *event.RoutingStep) (*Publication, error) {
	if a.deadLetter == nil || a.deadLetterTopic == "" {
		return nil, fmt.Errorf("%w: step %s after %d attempts", ErrAttemptsExhausted, step.ID, step.Attempt+1)
	}

	var cause any
	if step.Error != nil {
		cause = *step.Error
	}
	dead := a.deadLetter(evt, "step_attempts_exhausted", cause, step.ID)

	a.logger.Warn("routing step exhausted its attempts, dead-lettering",
		zap.String("correlation_id", evt.CorrelationID),
		zap.String("step_id", step.ID),
		zap.Int("max_attempts", step.MaxAttempts),
	)

	pub := &Publication{Topic: a.deadLetterTopic, StepID: step.ID, DeadLetter: true}
	id, err := a.publisher.Publish(ctx, pub.Topic, dead, a.attributes(dead))
	if err != nil {
		return nil, fmt.Errorf("failed to publish dead letter to %s: %w", pub.Topic, err)
	}
	pub.MessageID = id
	return pub, nil
}

// claim validates evt and takes its idempotency claim
func (a *Advancer) claim(evt *event.Envelope) error {
	if evt == nil || evt.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	if !a.guard.Acquire(weak.Make(evt)) {
		a.logger.Debug("skipping duplicate advancement",
			zap.String("correlation_id", evt.CorrelationID),
		)
		return ErrDuplicateAdvance
	}
	return nil
}

func (a *Advancer) egressFor(evt *event.Envelope) (string, error) {
	if evt.Egress != nil && evt.Egress.Destination != "" {
		return evt.Egress.Destination, nil
	}
	if a.egressTopic != "" {
		return a.egressTopic, nil
	}
	return "", fmt.Errorf("%w: slip drained and no egress destination", ErrNoDestination)
}

func (a *Advancer) publish(ctx context.Context, evt *event.Envelope, pub *Publication) (*Publication, error) {
	id, err := a.publisher.Publish(ctx, pub.Topic, evt, a.attributes(evt))
	if err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", pub.Topic, err)
	}
	pub.MessageID = id

	a.logger.Debug("advanced envelope",
		zap.String("correlation_id", evt.CorrelationID),
		zap.String("topic", pub.Topic),
		zap.String("message_id", id),
	)
	return pub, nil
}

func (a *Advancer) attributes(evt *event.Envelope) map[string]string {
	return map[string]string{
		"type":          evt.Type,
		"correlationId": evt.CorrelationID,
		"source":        a.source,
	}
}
