package relay

import (
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Tyrowin/cliprelay/internal/metrics"
)

// Dispatcher validates publish requests and fans payloads out to a room.
type Dispatcher struct {
	limiter  *RateLimiter
	gate     *Gate
	registry *Registry
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewDispatcher wires a Dispatcher over the given components.
func NewDispatcher(limiter *RateLimiter, gate *Gate, registry *Registry, clock clockwork.Clock, log *zap.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		limiter:  limiter,
		gate:     gate,
		registry: registry,
		clock:    clock,
		log:      log,
	}
}

// Publish rate-limits, authenticates and delivers req.Text to every open
// session in req.Room. It returns how many sessions accepted the payload.
// An empty room is not an error.
func (d *Dispatcher) Publish(req PublishRequest) (int, error) {
	if err := d.Admit(req.Source); err != nil {
		return 0, err
	}
	return d.Deliver(req)
}

// Admit charges one publish attempt to source. It runs before anything else
// about the request is looked at.
func (d *Dispatcher) Admit(source string) error {
	dec := d.limiter.Check(source)
	if dec.Allowed {
		return nil
	}
	metrics.RateLimited.WithLabelValues("publish").Inc()
	d.log.Info("publish rate limited",
		zap.String("source", source),
		zap.Int("retry_after", dec.RetryAfter))
	return &RateLimitError{RetryAfter: dec.RetryAfter}
}

// Deliver authenticates req and fans it out without touching the rate
// limiter. Callers must have admitted req.Source first.
func (d *Dispatcher) Deliver(req PublishRequest) (int, error) {
	if !d.gate.Verify(req.Room, req.Token) {
		d.log.Info("publish unauthorized",
			zap.String("source", req.Source),
			zap.String("room_fp", Fingerprint(req.Room)))
		return 0, ErrUnauthorized
	}

	members := d.registry.Members(req.Room)
	if len(members) == 0 {
		d.log.Debug("publish to empty room", zap.String("room_fp", Fingerprint(req.Room)))
		return 0, nil
	}

	payload, err := EncodeMessage(req.Text)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	start := d.clock.Now()
	delivered := d.fanout(members, payload)
	metrics.FanoutDuration.Observe(d.clock.Since(start).Seconds())
	metrics.MessagesDelivered.Add(float64(delivered))

	d.log.Debug("published",
		zap.String("room_fp", Fingerprint(req.Room)),
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered))
	return delivered, nil
}

// fanout enqueues payload on every open member. A failure on one member is
// logged and does not affect the others; a member whose queue is full is
// dropped through its normal close path.
func (d *Dispatcher) fanout(members []*Session, payload []byte) int {
	delivered := 0
	for _, s := range members {
		if !s.IsOpen() {
			continue
		}
		err := s.Enqueue(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendBufferFull):
			metrics.SendFailures.WithLabelValues("buffer_full").Inc()
			s.log.Warn("send buffer full, dropping slow subscriber")
			s.Close(ReasonSlowConsumer)
		case errors.Is(err, ErrSessionClosed):
			// closed between snapshot and send; its own close path cleans up
		default:
			metrics.SendFailures.WithLabelValues("error").Inc()
			s.log.Warn("send failed", zap.Error(err))
		}
	}
	return delivered
}
