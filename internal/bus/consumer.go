package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/event"
)

// ErrMissingData marks a stream entry without a string data field
var ErrMissingData = errors.New("missing or invalid 'data' field")

// Message is one stream entry delivered to a consumer
type Message struct {
	ID         string
	Stream     string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message envelope
func (m Message) Decode() (*event.Envelope, error) {
	if m.Data == nil {
		return nil, ErrMissingData
	}
	var evt event.Envelope
	if err := json.Unmarshal(m.Data, &evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &evt, nil
}

// Consumer reads one stream through a consumer group
type Consumer struct {
	client   redis.UniversalClient
	logger   *zap.Logger
	stream   string
	group    string
	consumer string
	block    time.Duration
	count    int64
}

// ConsumerConfig identifies the stream, group and consumer name
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// NewConsumer creates a consumer-group reader
func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	return &Consumer{
		client:   client,
		logger:   logger,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
		count:    cfg.Count,
	}
}

// EnsureGroup creates the consumer group, and the stream, when missing
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			c.logger.Debug("consumer group already exists",
				zap.String("group", c.group),
			)
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("created consumer group",
		zap.String("group", c.group),
		zap.String("stream", c.stream),
	)
	return nil
}

// Read blocks up to the configured block time for new messages. It returns
// an empty slice when none arrived.
func (c *Consumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.count,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			out = append(out, toMessage(stream.Stream, msg))
		}
	}
	return out, nil
}

// Ack acknowledges a handled message
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", id, err)
	}
	return nil
}

// Stream returns the consumed stream name
func (c *Consumer) Stream() string {
	return c.stream
}

func toMessage(stream string, msg redis.XMessage) Message {
	m := Message{
		ID:         msg.ID,
		Stream:     stream,
		Attributes: make(map[string]string, len(msg.Values)),
	}
	for k, v := range msg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == DataField {
			m.Data = []byte(s)
			continue
		}
		m.Attributes[k] = s
	}
	return m
}
