// Package idempotency provides a time-windowed guard that de-duplicates
// repeated side effects for the same key within one process.
//
// The guard is advisory: it prevents redundant publishes, it does not give
// exactly-once delivery.
package idempotency

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize bounds how many keys are remembered
	DefaultSize = 10000

	// DefaultWindow is how long a key stays claimed
	DefaultWindow = 5 * time.Minute
)

// Guard remembers claimed keys for a time window
type Guard[K comparable] struct {
	mu   sync.Mutex
	keys *expirable.LRU[K, struct{}]
}

// New creates a guard holding up to size keys for window. Non-positive values
// fall back to the defaults.
func New[K comparable](size int, window time.Duration) *Guard[K] {
	if size <= 0 {
		size = DefaultSize
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard[K]{
		keys: expirable.NewLRU[K, struct{}](size, nil, window),
	}
}

// Acquire claims key. It returns false when key is already claimed within
// the window.
func (g *Guard[K]) Acquire(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Get, unlike Contains, ignores entries past their expiry
	if _, held := g.keys.Get(key); held {
		return false
	}
	g.keys.Add(key, struct{}{})
	return true
}

// Release forgets key so that a failed operation can be retried
func (g *Guard[K]) Release(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys.Remove(key)
}

// Held reports whether key is currently claimed
func (g *Guard[K]) Held(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.keys.Get(key)
	return held
}

// Len returns the number of claimed keys
func (g *Guard[K]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys.Len()
}
