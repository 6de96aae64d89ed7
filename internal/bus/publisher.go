package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/event"
)

// DataField is the stream field holding the JSON envelope
const DataField = "data"

// ErrEmptyTopic is returned when publishing without a topic
var ErrEmptyTopic = errors.New("topic is empty")

// Publisher writes envelopes to Redis streams
type Publisher struct {
	client redis.UniversalClient
	logger *zap.Logger
	maxLen int64
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithMaxLen caps every stream at approximately n entries
func WithMaxLen(n int64) PublisherOption {
	return func(p *Publisher) { p.maxLen = n }
}

// NewPublisher creates a Redis Streams publisher
func NewPublisher(client redis.UniversalClient, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends evt to the topic stream and returns the stream entry id
func (p *Publisher) Publish(ctx context.Context, topic string, evt *event.Envelope, attrs map[string]string) (string, error) {
	if topic == "" {
		return "", ErrEmptyTopic
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	values := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		if k == DataField {
			continue
		}
		values[k] = v
	}
	values[DataField] = string(data)

	args := &redis.XAddArgs{
		Stream: topic,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("topic", topic),
		zap.String("message_id", id),
	)
	return id, nil
}
