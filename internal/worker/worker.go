package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/bus"
	"github.com/aescanero/dago-chat-router/internal/dlq"
	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/metrics"
	"github.com/aescanero/dago-chat-router/internal/router"
	"github.com/aescanero/dago-chat-router/internal/rules"
	"github.com/aescanero/dago-chat-router/internal/slip"
)

// Dead-letter reasons produced by the worker
const (
	ReasonUndecodable   = "undecodable_envelope"
	ReasonNoRuleMatched = "no_rule_matched"
	ReasonRouteFailed   = "route_failed"
	ReasonPublishFailed = "publish_failed"
)

// Source delivers ingress messages
type Source interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context) ([]bus.Message, error)
	Ack(ctx context.Context, id string) error
}

// RuleSource provides the current rule snapshot
type RuleSource interface {
	Rules() []rules.Rule
}

// Worker consumes inbound envelopes, routes them and publishes them to their
// first hop
type Worker struct {
	id              string
	source          Source
	rules           RuleSource
	engine          *router.Engine
	advancer        *slip.Advancer
	publisher       slip.Publisher
	metrics         *metrics.Metrics
	logger          *zap.Logger
	deadLetterTopic string
	evalConfig      map[string]any
	retryDelay      time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps groups the collaborators of a Worker
type Deps struct {
	Source    Source
	Rules     RuleSource
	Engine    *router.Engine
	Advancer  *slip.Advancer
	Publisher slip.Publisher
	Metrics   *metrics.Metrics
}

// Settings groups the worker parameters
type Settings struct {
	WorkerID        string
	DeadLetterTopic string
	EvalConfig      map[string]any
}

// NewWorker creates a new worker
func NewWorker(settings Settings, deps Deps, logger *zap.Logger) *Worker {
	return &Worker{
		id:              settings.WorkerID,
		source:          deps.Source,
		rules:           deps.Rules,
		engine:          deps.Engine,
		advancer:        deps.Advancer,
		publisher:       deps.Publisher,
		metrics:         deps.Metrics,
		logger:          logger.With(zap.String("worker_id", settings.WorkerID)),
		deadLetterTopic: settings.DeadLetterTopic,
		evalConfig:      settings.EvalConfig,
		retryDelay:      time.Second,
	}
}

// Start ensures the consumer group and starts the processing loop
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting router worker")

	if err := w.source.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processWork(loopCtx)
	}()

	w.logger.Info("router worker started")
	return nil
}

// Stop stops the processing loop and waits for the in-flight message
func (w *Worker) Stop() error {
	w.logger.Info("stopping router worker")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("router worker stopped")
	return nil
}

// processWork reads from the ingress stream until ctx is done
func (w *Worker) processWork(ctx context.Context) {
	w.logger.Info("starting work processing loop")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("work processing loop stopped")
			return
		default:
		}

		messages, err := w.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to read from stream", zap.Error(err))
			w.metrics.Error("read")
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage routes one ingress message and always acknowledges it
func (w *Worker) handleMessage(ctx context.Context, msg bus.Message) {
	logger := w.logger.With(zap.String("message_id", msg.ID))
	logger.Debug("processing ingress message")

	defer func() {
		// the ack must land even when shutdown cancelled ctx mid-message
		if err := w.source.Ack(context.WithoutCancel(ctx), msg.ID); err != nil {
			logger.Error("failed to acknowledge message", zap.Error(err))
			w.metrics.Error("ack")
		}
	}()

	evt, err := msg.Decode()
	if err != nil {
		logger.Error("failed to decode envelope", zap.Error(err))
		w.metrics.Error("decode")
		w.deadLetter(ctx, undecodable(msg), ReasonUndecodable, err, "")
		return
	}

	if evt.CorrelationID == "" {
		evt.CorrelationID = uuid.NewString()
		logger.Debug("assigned correlation id", zap.String("correlation_id", evt.CorrelationID))
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	started := time.Now()
	res, err := w.engine.Route(ctx, evt, w.rules.Rules(), w.evalConfig)
	if err != nil {
		logger.Error("routing failed", zap.Error(err))
		w.metrics.Error("route")
		w.deadLetter(ctx, evt, ReasonRouteFailed, err, "")
		return
	}
	w.metrics.ObserveRoute(res.Decision.Matched, res.Decision.RuleID, time.Since(started))

	if !res.Decision.Matched {
		w.deadLetter(ctx, res.Event, ReasonNoRuleMatched, "no rule matched the event", router.DeadLetterStepID)
		return
	}

	pub, err := w.advancer.Advance(ctx, res.Event, "")
	if err != nil {
		if errors.Is(err, slip.ErrDuplicateAdvance) {
			logger.Warn("envelope already advanced", zap.String("correlation_id", evt.CorrelationID))
			return
		}
		logger.Error("failed to advance envelope",
			zap.String("correlation_id", evt.CorrelationID),
			zap.Error(err),
		)
		w.metrics.Error("advance")
		w.deadLetter(ctx, res.Event, ReasonPublishFailed, err, "")
		return
	}

	w.metrics.Published(publicationKind(pub))
	logger.Info("routed envelope",
		zap.String("correlation_id", evt.CorrelationID),
		zap.String("rule_id", res.Decision.RuleID),
		zap.String("topic", pub.Topic),
	)
}

// deadLetter publishes a dead-letter event for evt. Failures are logged.
func (w *Worker) deadLetter(ctx context.Context, evt *event.Envelope, reason string, cause any, lastStepID string) {
	dead := dlq.Build(dlq.Params{
		Original:   evt,
		Reason:     reason,
		Err:        cause,
		LastStepID: lastStepID,
	})
	attrs := map[string]string{
		"type":          dead.Type,
		"correlationId": dead.CorrelationID,
		"source":        w.id,
	}
	if _, err := w.publisher.Publish(ctx, w.deadLetterTopic, dead, attrs); err != nil {
		w.logger.Error("failed to publish dead letter",
			zap.String("correlation_id", dead.CorrelationID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		w.metrics.Error("deadletter")
		return
	}
	w.metrics.DeadLettered(reason)
	w.metrics.Published(metrics.KindDeadLetter)
}

// undecodable wraps a message that is not a valid envelope
func undecodable(msg bus.Message) *event.Envelope {
	evt := &event.Envelope{
		CorrelationID: msg.Attributes["correlationId"],
		Type:          msg.Attributes["type"],
		Payload:       map[string]any{"data": string(msg.Data)},
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = uuid.NewString()
	}
	return evt
}

func publicationKind(pub *slip.Publication) string {
	switch {
	case pub.DeadLetter:
		return metrics.KindDeadLetter
	case pub.Retry:
		return metrics.KindRetry
	case pub.StepID == "":
		return metrics.KindEgress
	default:
		return metrics.KindNext
	}
}
