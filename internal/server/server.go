package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Tyrowin/cliprelay/internal/relay"
)

const admissionCleanupInterval = 5 * time.Minute

// Server exposes the relay hub over HTTP and WebSocket.
type Server struct {
	cfg       *Config
	hub       *relay.Hub
	admission *AdmissionLimiter
	origins   *originPolicy
	upgrader  websocket.Upgrader
	startTime time.Time
	clock     clockwork.Clock
	log       *zap.Logger
}

// NewServer wires the HTTP layer around hub.
func NewServer(cfg *Config, hub *relay.Hub, clock clockwork.Clock, log *zap.Logger) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		admission: NewAdmissionLimiter(cfg.SubscribeRate, cfg.SubscribeBurst, clock),
		origins:   newOriginPolicy(cfg.Origins(), log),
		startTime: clock.Now(),
		clock:     clock,
		log:       log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.origins.checkOrigin,
	}
	return s
}

// Hub returns the relay hub behind the server.
func (s *Server) Hub() *relay.Hub { return s.hub }

// RunBackground drives the server's periodic maintenance until ctx is
// cancelled.
func (s *Server) RunBackground(ctx context.Context) {
	s.admission.Run(ctx, admissionCleanupInterval)
}

// sourceID identifies the caller for rate limiting. Forwarded headers are
// only honoured when TRUST_PROXY is set.
func (s *Server) sourceID(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
