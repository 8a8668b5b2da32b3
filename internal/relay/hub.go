package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Options configures a Hub.
type Options struct {
	Credentials       Credentials
	AllowAnonymous    bool
	PublishLimit      int
	RateSweepInterval time.Duration
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	Session           SessionOptions
	Clock             clockwork.Clock
	Logger            *zap.Logger
}

// Hub owns the relay state: the room registry, the publish rate limiter,
// the auth gate and the heartbeat monitor. It launches the per-session
// pumps and waits for them on shutdown.
type Hub struct {
	registry   *Registry
	gate       *Gate
	limiter    *RateLimiter
	dispatcher *Dispatcher
	monitor    *Monitor

	sessionOpts SessionOptions
	rateSweep   time.Duration
	clock       clockwork.Clock
	log         *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHub builds a Hub from opts. Background loops start with Run.
func NewHub(opts Options) *Hub {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	registry := NewRegistry()
	gate := NewGate(opts.Credentials, opts.AllowAnonymous)
	limiter := NewRateLimiter(opts.PublishLimit, clock)

	return &Hub{
		registry:    registry,
		gate:        gate,
		limiter:     limiter,
		dispatcher:  NewDispatcher(limiter, gate, registry, clock, log.Named("dispatcher")),
		monitor:     NewMonitor(registry, opts.HeartbeatInterval, opts.ClientTimeout, clock, log.Named("heartbeat")),
		sessionOpts: opts.Session.withDefaults(),
		rateSweep:   opts.RateSweepInterval,
		clock:       clock,
		log:         log,
	}
}

// Registry returns the hub's room registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Gate returns the hub's auth gate.
func (h *Hub) Gate() *Gate { return h.gate }

// Limiter returns the publish rate limiter.
func (h *Hub) Limiter() *RateLimiter { return h.limiter }

// Monitor returns the heartbeat monitor.
func (h *Hub) Monitor() *Monitor { return h.monitor }

// Authorize reports whether token grants access to room.
func (h *Hub) Authorize(room, token string) bool {
	return h.gate.Verify(room, token)
}

// Subscribe binds an already authorized transport to room, sends the
// connection acknowledgment and starts the session's pumps.
func (h *Hub) Subscribe(room, remote string, conn Transport) (*Session, error) {
	s := newSession(room, remote, conn, h.sessionOpts, h.clock, h.log, h.leave)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	// The ack is queued before the session becomes visible to publishers so
	// it is always the first frame written.
	if err := s.Enqueue(connectedAck); err != nil {
		return nil, err
	}
	h.registry.Join(room, s)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()

	s.log.Info("session subscribed", zap.Int("room_members", h.registry.Count(room)))
	return s, nil
}

func (h *Hub) leave(s *Session) {
	if h.registry.Leave(s.room, s) {
		s.log.Debug("session left room", zap.Int("room_members", h.registry.Count(s.room)))
	}
}

// Dispatcher returns the publish dispatcher.
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

// Publish runs the full publish pipeline for req.
func (h *Hub) Publish(req PublishRequest) (int, error) {
	return h.dispatcher.Publish(req)
}

// Run drives the heartbeat monitor and the rate-bucket sweeper until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.limiter.Run(ctx, h.rateSweep)
	}()
	h.log.Info("hub started")
	wg.Wait()
}

// Shutdown closes every session with a going-away frame and waits for the
// session pumps to exit or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	sessions := h.registry.Sessions()
	h.log.Info("shutting down hub", zap.Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.CloseGracefully(ReasonShutdown, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some pumps may still be running")
		return context.DeadlineExceeded
	}
}
