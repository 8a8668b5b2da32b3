package server

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const admissionIdleTTL = 10 * time.Minute

// AdmissionLimiter limits the rate of subscribe handshakes per source using
// a token bucket per source.
type AdmissionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*admissionEntry
	rate     rate.Limit
	burst    int
	clock    clockwork.Clock
}

type admissionEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAdmissionLimiter creates a limiter allowing perSecond sustained
// handshakes with the given burst for each source.
func NewAdmissionLimiter(perSecond float64, burst int, clock clockwork.Clock) *AdmissionLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AdmissionLimiter{
		limiters: make(map[string]*admissionEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		clock:    clock,
	}
}

// Allow reports whether a new handshake from source may proceed.
func (l *AdmissionLimiter) Allow(source string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[source]
	if !exists {
		entry = &admissionEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops sources idle for longer than the idle TTL.
func (l *AdmissionLimiter) Cleanup() int {
	cutoff := l.clock.Now().Add(-admissionIdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for source, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, source)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sources.
func (l *AdmissionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Run calls Cleanup every interval until ctx is cancelled.
func (l *AdmissionLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.Cleanup()
		}
	}
}
