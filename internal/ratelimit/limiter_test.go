// internal/ratelimit/limiter_test.go
package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock lets tests move the limiter's notion of time by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(cap int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(cap, window, zap.NewNop())
	l.now = clock.Now
	return l, clock
}

func TestLimiterCheck(t *testing.T) {
	t.Run("allows up to cap and reports remaining", func(t *testing.T) {
		l, _ := newTestLimiter(3, time.Hour)

		for i, wantRemaining := range []int{2, 1, 0} {
			res := l.Check("alice")
			assert.True(t, res.Allowed, "check %d", i+1)
			assert.Equal(t, wantRemaining, res.Remaining, "check %d", i+1)
		}

		res := l.Check("alice")
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("first check for an unknown user succeeds", func(t *testing.T) {
		l, _ := newTestLimiter(10, time.Hour)

		res := l.Check("never-seen-before")
		assert.True(t, res.Allowed)
		assert.Equal(t, 9, res.Remaining)
	})

	t.Run("users do not share budgets", func(t *testing.T) {
		l, _ := newTestLimiter(1, time.Hour)

		require.True(t, l.Check("alice").Allowed)
		assert.False(t, l.Check("alice").Allowed)
		assert.True(t, l.Check("bob").Allowed)
	})

	t.Run("expired window restarts the budget", func(t *testing.T) {
		l, clock := newTestLimiter(2, time.Hour)

		require.True(t, l.Check("alice").Allowed)
		require.True(t, l.Check("alice").Allowed)
		require.False(t, l.Check("alice").Allowed)

		// One second short of expiry: still denied.
		clock.Advance(time.Hour - time.Second)
		assert.False(t, l.Check("alice").Allowed)

		clock.Advance(time.Second)
		res := l.Check("alice")
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})
}

func TestLimiterPeek(t *testing.T) {
	t.Run("does not consume the budget", func(t *testing.T) {
		l, _ := newTestLimiter(2, time.Hour)

		for i := 0; i < 10; i++ {
			res := l.Peek("alice")
			assert.True(t, res.Allowed)
			assert.Equal(t, 2, res.Remaining)
		}

		require.True(t, l.Check("alice").Allowed)
		res := l.Peek("alice")
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})

	t.Run("reports exhaustion", func(t *testing.T) {
		l, _ := newTestLimiter(1, time.Hour)

		require.True(t, l.Check("alice").Allowed)
		res := l.Peek("alice")
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("expired window reads as full budget", func(t *testing.T) {
		l, clock := newTestLimiter(1, time.Hour)

		require.True(t, l.Check("alice").Allowed)
		clock.Advance(2 * time.Hour)

		res := l.Peek("alice")
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})
}

// TestLimiterConcurrentCheck hammers one user's budget from many goroutines
// and verifies exactly cap checks succeed. Two racing requests must never
// both win the last slot.
func TestLimiterConcurrentCheck(t *testing.T) {
	const (
		budget  = 50
		workers = 20
		rounds  = 10
	)
	l, _ := newTestLimiter(budget, time.Hour)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if l.Check("shared").Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(budget), allowed.Load())
}

func TestLimiterPrune(t *testing.T) {
	l, clock := newTestLimiter(5, time.Hour)

	l.Check("alice")
	l.Check("bob")
	clock.Advance(30 * time.Minute)
	l.Check("carol")

	// alice and bob are 90 minutes old, carol only 60.
	clock.Advance(time.Hour)
	assert.Equal(t, 3, l.Prune())
	assert.Empty(t, l.windows)

	// Pruning never loses live state.
	l.Check("dave")
	clock.Advance(time.Minute)
	assert.Equal(t, 0, l.Prune())
	res := l.Peek("dave")
	assert.Equal(t, 4, res.Remaining)
}
