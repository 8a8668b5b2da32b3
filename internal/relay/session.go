package relay

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Tyrowin/cliprelay/internal/metrics"
)

// Reasons a session was closed, used as log fields and metric labels.
const (
	ReasonClientClosed     = "client_closed"
	ReasonReadError        = "read_error"
	ReasonReadLimit        = "read_limit"
	ReasonWriteError       = "write_error"
	ReasonSlowConsumer     = "slow_consumer"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonPingFailed       = "ping_failed"
	ReasonShutdown         = "shutdown"
)

var (
	// ErrSessionClosed is returned when enqueueing to a closed session.
	ErrSessionClosed = errors.New("relay: session closed")

	// ErrSendBufferFull is returned when a session's outbound queue is full.
	ErrSendBufferFull = errors.New("relay: send buffer full")
)

// Transport is the subset of *websocket.Conn a Session relies on.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// SessionOptions tunes per-session buffering and timeouts.
type SessionOptions struct {
	SendBuffer     int
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

// Session is one subscriber connection bound to exactly one room for its
// lifetime. Its pointer identity is what the Registry stores.
type Session struct {
	id     string
	room   string
	remote string

	conn Transport
	send chan []byte
	done chan struct{}

	open      atomic.Bool
	lastAck   atomic.Int64
	closeOnce sync.Once
	onClose   func(*Session)

	opts  SessionOptions
	clock clockwork.Clock
	log   *zap.Logger
}

func newSession(room, remote string, conn Transport, opts SessionOptions, clock clockwork.Clock, log *zap.Logger, onClose func(*Session)) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:      id,
		room:    room,
		remote:  remote,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
		opts:    opts,
		clock:   clock,
		log: log.With(
			zap.String("session", id),
			zap.String("room_fp", Fingerprint(room)),
			zap.String("remote", remote),
		),
	}
	s.open.Store(true)
	s.touch()
	return s
}

// ID returns the session's log identifier.
func (s *Session) ID() string { return s.id }

// Room returns the room the session subscribed to.
func (s *Session) Room() string { return s.room }

// Remote returns the peer address recorded at subscribe time.
func (s *Session) Remote() string { return s.remote }

// IsOpen reports whether the session still accepts payloads.
func (s *Session) IsOpen() bool { return s.open.Load() }

// LastAck returns the time of the last heartbeat acknowledgment.
func (s *Session) LastAck() time.Time {
	return time.Unix(0, s.lastAck.Load())
}

func (s *Session) touch() {
	s.lastAck.Store(s.clock.Now().UnixNano())
}

// Enqueue queues payload for delivery without blocking.
func (s *Session) Enqueue(payload []byte) error {
	if !s.open.Load() {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a heartbeat probe. Control frames may be written concurrently
// with the write pump.
func (s *Session) Ping() error {
	if !s.open.Load() {
		return ErrSessionClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait))
}

// Close terminates the session without a close handshake and removes it
// from its room. It is safe to call more than once; only the first reason
// is recorded.
func (s *Session) Close(reason string) {
	s.closeWith(reason, nil)
}

// CloseGracefully sends a close frame with code before terminating.
func (s *Session) CloseGracefully(reason string, code int, text string) {
	s.closeWith(reason, websocket.FormatCloseMessage(code, text))
}

func (s *Session) closeWith(reason string, frame []byte) {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
		metrics.SessionsClosed.WithLabelValues(reason).Inc()

		if frame != nil {
			err := s.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(s.opts.WriteWait))
			if err != nil && !isExpectedCloseError(err) {
				s.log.Debug("close frame not sent", zap.Error(err))
			}
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing connection", zap.Error(err))
		}
		s.log.Info("session closed", zap.String("reason", reason))
	})
}

// handleReadError logs the read failure at the right level and returns the
// close reason for it.
func (s *Session) handleReadError(err error) string {
	if errors.Is(err, websocket.ErrReadLimit) {
		s.log.Warn("inbound frame exceeded read limit", zap.Int64("limit", s.opts.MaxMessageSize))
		return ReasonReadLimit
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("client disconnected", zap.Error(err))
		return ReasonClientClosed
	}

	if !s.open.Load() || errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		s.log.Debug("connection closed", zap.Error(err))
		return ReasonClientClosed
	}

	s.log.Warn("transport read error", zap.Error(err))
	return ReasonReadError
}

// readPump consumes inbound frames so pong and close control frames are
// processed. Data frames from subscribers carry no meaning and are dropped.
func (s *Session) readPump() {
	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.Close(s.handleReadError(err))
			return
		}
	}
}

// writePump drains the outbound queue one frame per payload, each under a
// bounded write deadline.
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := s.write(payload); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn("transport write error", zap.Error(err))
				}
				s.Close(ReasonWriteError)
				return
			}
		}
	}
}

func (s *Session) write(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
