package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Tyrowin/cliprelay/internal/metrics"
)

// Default heartbeat timings.
const (
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultClientTimeout     = 45 * time.Second
)

// SessionSource supplies the live sessions a Monitor probes.
type SessionSource interface {
	Sessions() []*Session
}

// Monitor pings every live session on a fixed interval and terminates the
// ones whose last pong is older than the timeout.
type Monitor struct {
	source   SessionSource
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewMonitor creates a Monitor over source. Non-positive durations use the
// defaults.
func NewMonitor(source SessionSource, interval, timeout time.Duration, clock clockwork.Clock, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		source:   source,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		log:      log,
	}
}

// SweepResult summarises one heartbeat pass.
type SweepResult struct {
	Pinged  int
	Evicted int
}

// Sweep runs a single heartbeat pass over a snapshot of the live sessions.
func (m *Monitor) Sweep() SweepResult {
	var res SweepResult
	for _, s := range m.source.Sessions() {
		if !s.IsOpen() {
			continue
		}
		idle := m.clock.Since(s.LastAck())
		if idle > m.timeout {
			s.log.Info("heartbeat timeout, terminating session", zap.Duration("idle", idle))
			metrics.HeartbeatEvictions.Inc()
			s.Close(ReasonHeartbeatTimeout)
			res.Evicted++
			continue
		}
		if err := s.Ping(); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Warn("heartbeat ping failed", zap.Error(err))
			}
			s.Close(ReasonPingFailed)
			continue
		}
		res.Pinged++
	}
	if res.Evicted > 0 {
		m.log.Debug("heartbeat sweep", zap.Int("pinged", res.Pinged), zap.Int("evicted", res.Evicted))
	}
	return res
}

// Run sweeps on every interval tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}
