package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/cliprelay/internal/metrics"
)

// RateWindow is the fixed window length for publish rate limiting.
const RateWindow = 60 * time.Second

// Decision is the outcome of a rate-limit check. RetryAfter is in whole
// seconds and only set when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter keyed by source identifier. It is
// in-memory and per process.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	clock   clockwork.Clock
}

// NewRateLimiter creates a limiter allowing limit requests per source per
// RateWindow. A non-positive limit falls back to 60.
func NewRateLimiter(limit int, clock clockwork.Clock) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		clock:   clock,
	}
}

// Limit returns the configured requests per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Check records one request from source and reports whether it may proceed.
func (rl *RateLimiter) Check(source string) Decision {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[source]
	if !ok || !now.Before(b.resetAt) {
		if !ok {
			metrics.RateBuckets.Inc()
		}
		rl.buckets[source] = &bucket{count: 1, resetAt: now.Add(RateWindow)}
		return Decision{Allowed: true}
	}

	b.count++
	if b.count > rl.limit {
		return Decision{Allowed: false, RetryAfter: retryAfterSeconds(b.resetAt.Sub(now))}
	}
	return Decision{Allowed: true}
}

func retryAfterSeconds(remaining time.Duration) int {
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Len returns the number of tracked sources.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Sweep removes buckets whose window has already ended. The lock is taken
// per bucket so request handling is never blocked for a whole pass.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	sources := make([]string, 0, len(rl.buckets))
	for source := range rl.buckets {
		sources = append(sources, source)
	}
	rl.mu.Unlock()

	removed := 0
	for _, source := range sources {
		now := rl.clock.Now()
		rl.mu.Lock()
		if b, ok := rl.buckets[source]; ok && !now.Before(b.resetAt) {
			delete(rl.buckets, source)
			removed++
		}
		rl.mu.Unlock()
	}
	metrics.RateBuckets.Sub(float64(removed))
	return removed
}

// Run sweeps stale buckets every interval until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = RateWindow
	}
	ticker := rl.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rl.Sweep()
		}
	}
}
