package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(3, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Check("10.0.0.1").Allowed, "request %d", i+1)
	}

	dec := rl.Check("10.0.0.1")
	assert.False(t, dec.Allowed)
	assert.Equal(t, 60, dec.RetryAfter)

	clock.Advance(30*time.Second + 200*time.Millisecond)
	dec = rl.Check("10.0.0.1")
	assert.False(t, dec.Allowed)
	assert.Equal(t, 30, dec.RetryAfter, "retry-after rounds up to whole seconds")

	clock.Advance(30 * time.Second)
	assert.True(t, rl.Check("10.0.0.1").Allowed, "new window after reset")
}

func TestRateLimiterRetryAfterBounds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, clock)

	require.True(t, rl.Check("a").Allowed)
	for _, step := range []time.Duration{0, 10 * time.Second, 49*time.Second + 900*time.Millisecond} {
		clock.Advance(step)
		dec := rl.Check("a")
		require.False(t, dec.Allowed)
		assert.GreaterOrEqual(t, dec.RetryAfter, 1)
		assert.LessOrEqual(t, dec.RetryAfter, 60)
	}
}

func TestRateLimiterSourcesAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, clockwork.NewFakeClock())

	assert.True(t, rl.Check("a").Allowed)
	assert.False(t, rl.Check("a").Allowed)
	assert.True(t, rl.Check("b").Allowed)
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	assert.Equal(t, 60, rl.Limit())
}

func TestRateLimiterConcurrentChecks(t *testing.T) {
	rl := NewRateLimiter(50, clockwork.NewFakeClock())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Check("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiterSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(5, clock)

	rl.Check("old")
	clock.Advance(30 * time.Second)
	rl.Check("fresh")

	assert.Zero(t, rl.Sweep(), "no window has ended yet")

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Zero(t, rl.Len())
}

func TestRateLimiterRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(5, clock)
	rl.Check("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Minute)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
