// Package redisstate remembers, per user and rule, the candidate most
// recently chosen by random candidate selection.
package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "router:lastcand"

	// DefaultTTL is how long a last choice is remembered
	DefaultTTL = 7 * 24 * time.Hour
)

// Store keeps last-candidate ids in Redis
type Store struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// New creates a Redis state store. A non-positive ttl falls back to
// DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func key(userID, ruleID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, ruleID, userID)
}

// GetLastCandidateID returns the last candidate chosen for the pair, or ""
// when none is recorded
func (s *Store) GetLastCandidateID(ctx context.Context, userID, ruleID string) (string, error) {
	id, err := s.client.Get(ctx, key(userID, ruleID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load last candidate: %w", err)
	}
	return id, nil
}

// UpdateLastCandidateID records candidateID as the last choice for the pair
// and refreshes its expiry
func (s *Store) UpdateLastCandidateID(ctx context.Context, userID, ruleID, candidateID string) error {
	if err := s.client.Set(ctx, key(userID, ruleID), candidateID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save last candidate: %w", err)
	}
	s.logger.Debug("stored last candidate",
		zap.String("user_id", userID),
		zap.String("rule_id", ruleID),
		zap.String("candidate_id", candidateID),
	)
	return nil
}

// Forget drops the last choice for the pair
func (s *Store) Forget(ctx context.Context, userID, ruleID string) error {
	if err := s.client.Del(ctx, key(userID, ruleID)).Err(); err != nil {
		return fmt.Errorf("failed to delete last candidate: %w", err)
	}
	return nil
}
