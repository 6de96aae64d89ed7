package idempotency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := New[string](10, time.Minute)

	assert.True(t, g.Acquire("a"))
	assert.False(t, g.Acquire("a"))
	assert.True(t, g.Acquire("b"))
	assert.True(t, g.Held("a"))

	g.Release("a")
	assert.False(t, g.Held("a"))
	assert.True(t, g.Acquire("a"))
	assert.Equal(t, 2, g.Len())
}

func TestGuard_WindowExpires(t *testing.T) {
	g := New[string](10, 20*time.Millisecond)

	assert.True(t, g.Acquire("a"))
	assert.Eventually(t, func() bool {
		return g.Acquire("a")
	}, time.Second, 10*time.Millisecond)
}

func TestGuard_PointerKeys(t *testing.T) {
	type item struct{ n int }
	g := New[*item](0, 0)

	a, b := &item{1}, &item{1}
	assert.True(t, g.Acquire(a))
	assert.True(t, g.Acquire(b))
	assert.False(t, g.Acquire(a))
}

func TestGuard_Concurrent(t *testing.T) {
	g := New[string](100, time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire("same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
