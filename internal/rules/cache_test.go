package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/eval/logic"
)

// fakeStore is an in-memory DocumentStore whose change feed is driven by
// the test through push
type fakeStore struct {
	mu           sync.Mutex
	docs         []Document
	getErr       error
	subErr       error
	panicOnGet   bool
	listener     func([]Document)
	unsubscribed bool
	paths        []string
}

func (s *fakeStore) Collection(path string) Collection {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return s
}

func (s *fakeStore) Get(_ context.Context) ([]Document, error) {
	if s.panicOnGet {
		panic("boom")
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.docs, nil
}

func (s *fakeStore) OnSnapshot(_ context.Context, fn func([]Document)) (func(), error) {
	if s.subErr != nil {
		return nil, s.subErr
	}
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubscribed = true
		s.listener = nil
	}, nil
}

func (s *fakeStore) push(docs []Document) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(docs)
	}
}

func ruleDoc(id string, priority float64) Document {
	return Document{ID: id, Data: map[string]any{
		"enabled":     true,
		"priority":    priority,
		"logic":       map[string]any{"==": []any{1.0, 1.0}},
		"routingSlip": []any{map[string]any{"id": "s", "nextTopic": "t." + id}},
	}}
}

func ids(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestCache_WarmLoadAndChangeFeed(t *testing.T) {
	store := &fakeStore{docs: []Document{ruleDoc("b", 2), ruleDoc("a", 1)}}
	var refreshed []int
	cache := NewCache("rules", zap.NewNop(),
		WithEvaluator(logic.NewEvaluator()),
		WithRefreshHook(func(n int) { refreshed = append(refreshed, n) }),
	)

	assert.Empty(t, cache.Rules())
	assert.False(t, cache.Started())

	require.NoError(t, cache.Start(context.Background(), store))
	assert.True(t, cache.Started())
	assert.Equal(t, []string{"rules"}, store.paths)
	assert.Equal(t, []string{"a", "b"}, ids(cache.Rules()))

	_, compiled := cache.Rules()[0].Expression().(logic.Node)
	assert.True(t, compiled)

	before := cache.Rules()
	store.push([]Document{ruleDoc("c", 0), ruleDoc("a", 1)})
	assert.Equal(t, []string{"c", "a"}, ids(cache.Rules()))
	// earlier snapshots are not modified by a rebuild
	assert.Equal(t, []string{"a", "b"}, ids(before))
	assert.Equal(t, []int{2, 2}, refreshed)

	cache.Stop()
	assert.True(t, store.unsubscribed)
	store.push([]Document{})
	assert.Equal(t, []string{"c", "a"}, ids(cache.Rules()))
}

func TestCache_WarmLoadFailureLeavesEmpty(t *testing.T) {
	store := &fakeStore{getErr: errors.New("unavailable")}
	cache := NewCache("rules", zap.NewNop())

	require.NoError(t, cache.Start(context.Background(), store))
	assert.Empty(t, cache.Rules())
	assert.True(t, cache.Started())

	// the subscription still proceeds
	store.push([]Document{ruleDoc("a", 1)})
	assert.Equal(t, []string{"a"}, ids(cache.Rules()))
}

func TestCache_WarmLoadPanicLeavesEmpty(t *testing.T) {
	store := &fakeStore{panicOnGet: true}
	cache := NewCache("rules", zap.NewNop())

	assert.NotPanics(t, func() {
		require.NoError(t, cache.Start(context.Background(), store))
	})
	assert.Empty(t, cache.Rules())
}

func TestCache_SubscribeFailureKeepsSnapshot(t *testing.T) {
	store := &fakeStore{docs: []Document{ruleDoc("a", 1)}, subErr: errors.New("no feed")}
	cache := NewCache("rules", zap.NewNop())

	require.NoError(t, cache.Start(context.Background(), store))
	assert.Equal(t, []string{"a"}, ids(cache.Rules()))

	// Stop without a subscription is a no-op
	assert.NotPanics(t, cache.Stop)
}

func TestCache_StartTwiceAndNilStore(t *testing.T) {
	cache := NewCache("rules", zap.NewNop())
	assert.Error(t, cache.Start(context.Background(), nil))

	store := &fakeStore{}
	require.NoError(t, cache.Start(context.Background(), store))
	assert.Error(t, cache.Start(context.Background(), store))
}
