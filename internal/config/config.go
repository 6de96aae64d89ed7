package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the router worker
type Config struct {
	// Worker configuration
	WorkerID string `env:"WORKER_ID" envDefault:"router-1"`

	// Redis configuration
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASS" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Stream configuration
	IngressStream   string        `env:"INGRESS_STREAM" envDefault:"internal.routing.v1"`
	ConsumerGroup   string        `env:"CONSUMER_GROUP" envDefault:"router-workers"`
	BlockTime       time.Duration `env:"BLOCK_TIME" envDefault:"1s"`
	DeadLetterTopic string        `env:"DEADLETTER_TOPIC" envDefault:"internal.deadletter.v1"`
	EgressTopic     string        `env:"EGRESS_TOPIC" envDefault:"internal.egress.v1"`
	StreamMaxLen    int64         `env:"STREAM_MAXLEN" envDefault:"0"`

	// Rule store configuration
	NATSURL         string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	RulesBucket     string `env:"RULES_BUCKET" envDefault:"ROUTER_RULES"`
	RulesCollection string `env:"RULES_COLLECTION" envDefault:"rules"`

	// Advancement and candidate state
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"5m"`
	IdempotencySize int           `env:"IDEMPOTENCY_SIZE" envDefault:"10000"`
	CandidateTTL    time.Duration `env:"CANDIDATE_TTL" envDefault:"168h"`

	// Evaluation configuration
	CELEnabled    bool              `env:"CEL_ENABLED" envDefault:"true"`
	RouterContext map[string]string `env:"ROUTER_CONTEXT"`

	// Health check configuration
	HealthPort int `env:"HEALTH_PORT" envDefault:"8082"`

	// Logging configuration
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"WORKER_ID", c.WorkerID},
		{"REDIS_ADDR", c.RedisAddr},
		{"INGRESS_STREAM", c.IngressStream},
		{"CONSUMER_GROUP", c.ConsumerGroup},
		{"DEADLETTER_TOPIC", c.DeadLetterTopic},
		{"EGRESS_TOPIC", c.EgressTopic},
		{"NATS_URL", c.NATSURL},
		{"RULES_BUCKET", c.RulesBucket},
		{"RULES_COLLECTION", c.RulesCollection},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.DeadLetterTopic == c.EgressTopic {
		return fmt.Errorf("DEADLETTER_TOPIC and EGRESS_TOPIC must differ")
	}

	if c.BlockTime <= 0 {
		return fmt.Errorf("BLOCK_TIME must be positive")
	}

	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}

	if c.IdempotencySize <= 0 {
		return fmt.Errorf("IDEMPOTENCY_SIZE must be positive")
	}

	if c.StreamMaxLen < 0 {
		return fmt.Errorf("STREAM_MAXLEN must be non-negative")
	}

	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 1 and 65535")
	}

	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	return nil
}

// isValidLogLevel checks if the log level is valid
func isValidLogLevel(level string) bool {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	return validLevels[level]
}

// EvalConfig returns ROUTER_CONTEXT as the map exposed to rule expressions
// under "config"
func (c *Config) EvalConfig() map[string]any {
	out := make(map[string]any, len(c.RouterContext))
	for k, v := range c.RouterContext {
		out[k] = v
	}
	return out
}

// String returns a string representation of the config (without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{WorkerID=%s, RedisAddr=%s, RedisDB=%d, IngressStream=%s, ConsumerGroup=%s, "+
			"DeadLetterTopic=%s, EgressTopic=%s, NATSURL=%s, RulesBucket=%s, RulesCollection=%s, "+
			"CELEnabled=%v, HealthPort=%d, LogLevel=%s}",
		c.WorkerID,
		c.RedisAddr,
		c.RedisDB,
		c.IngressStream,
		c.ConsumerGroup,
		c.DeadLetterTopic,
		c.EgressTopic,
		c.NATSURL,
		c.RulesBucket,
		c.RulesCollection,
		c.CELEnabled,
		c.HealthPort,
		c.LogLevel,
	)
}
