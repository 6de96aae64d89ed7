package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/eval/logic"
)

// Cache keeps the current rule snapshot of one collection
type Cache struct {
	collection string
	logger     *zap.Logger
	evaluator  *logic.Evaluator
	onRefresh  func(count int)

	snapshot atomic.Pointer[[]Rule]
	started  atomic.Bool

	mu          sync.Mutex
	unsubscribe func()
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithEvaluator precompiles rule logic with ev on every rebuild
func WithEvaluator(ev *logic.Evaluator) CacheOption {
	return func(c *Cache) { c.evaluator = ev }
}

// WithRefreshHook calls fn with the rule count after every rebuild
func WithRefreshHook(fn func(count int)) CacheOption {
	return func(c *Cache) { c.onRefresh = fn }
}

// NewCache creates an empty cache for collection
func NewCache(collection string, logger *zap.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		collection: collection,
		logger:     logger.With(zap.String("collection", collection)),
	}
	for _, opt := range opts {
		opt(c)
	}
	empty := []Rule{}
	c.snapshot.Store(&empty)
	return c
}

// Start warm-loads the collection and subscribes to its change feed. A failed
// warm load leaves the cache empty and a failed subscription keeps the warm
// snapshot; neither is returned as an error.
func (c *Cache) Start(ctx context.Context, store DocumentStore) error {
	if store == nil {
		return errors.New("document store is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unsubscribe != nil {
		return fmt.Errorf("rule cache for %s already started", c.collection)
	}

	coll := store.Collection(c.collection)

	docs, err := c.warmLoad(ctx, coll)
	if err != nil {
		c.logger.Error("rule warm load failed, serving empty rule set", zap.Error(err))
	} else {
		c.refresh(docs)
		c.logger.Info("rules warm loaded", zap.Int("count", len(c.Rules())))
	}
	c.started.Store(true)

	unsubscribe, err := c.subscribe(ctx, coll)
	if err != nil {
		c.logger.Error("rule change feed subscription failed, serving warm snapshot", zap.Error(err))
		return nil
	}
	c.unsubscribe = unsubscribe
	c.logger.Info("subscribed to rule change feed")

	return nil
}

// warmLoad shields Start from stores that panic
func (c *Cache) warmLoad(ctx context.Context, coll Collection) (docs []Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warm load panic: %v", r)
		}
	}()
	return coll.Get(ctx)
}

func (c *Cache) subscribe(ctx context.Context, coll Collection) (unsubscribe func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscribe panic: %v", r)
		}
	}()
	return coll.OnSnapshot(ctx, func(docs []Document) {
		c.refresh(docs)
		c.logger.Info("rules refreshed", zap.Int("count", len(c.Rules())))
	})
}

// Stop cancels the change feed subscription. The last snapshot stays
// readable.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
		c.logger.Info("unsubscribed from rule change feed")
	}
}

// Rules returns the current snapshot sorted by priority then id. The slice
// is shared and must not be modified.
func (c *Cache) Rules() []Rule {
	return *c.snapshot.Load()
}

// Started reports whether the warm load has been attempted
func (c *Cache) Started() bool {
	return c.started.Load()
}

func (c *Cache) refresh(docs []Document) {
	rules := Build(docs, c.logger)
	if c.evaluator != nil {
		for i := range rules {
			if err := rules[i].Compile(c.evaluator); err != nil {
				c.logger.Warn("rule logic does not compile, it will never match",
					zap.String("rule_id", rules[i].ID),
					zap.Error(err),
				)
			}
		}
	}
	c.snapshot.Store(&rules)
	if c.onRefresh != nil {
		c.onRefresh(len(rules))
	}
}

// Build normalizes docs, drops disabled and invalid ones and sorts the rest
func Build(docs []Document, logger *zap.Logger) []Rule {
	rules := make([]Rule, 0, len(docs))
	for _, doc := range docs {
		rule, err := Normalize(doc.ID, doc.Data)
		if errors.Is(err, ErrDisabled) {
			logger.Debug("skipping disabled rule", zap.String("rule_id", doc.ID))
			continue
		}
		if err != nil {
			logger.Warn("skipping invalid rule",
				zap.String("rule_id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		rules = append(rules, rule)
	}
	Sort(rules)
	return rules
}
