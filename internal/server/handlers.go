// Package server exposes HTTP handlers for subscribe upgrades, publishes and
// health checks.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/cliprelay/internal/metrics"
	"github.com/Tyrowin/cliprelay/internal/relay"
)

// Error codes carried in the "error" field of publish responses.
const (
	errCodeRateLimited     = "rate_limited"
	errCodeBadRequest      = "bad_request"
	errCodePayloadTooLarge = "payload_too_large"
)

type publishBody struct {
	Room  string          `json:"room"`
	Token string          `json:"token"`
	Text  json.RawMessage `json:"text"`
}

type publishResponse struct {
	OK        bool `json:"ok"`
	Delivered int  `json:"delivered"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// handleSubscribe upgrades the request and binds the socket to the room
// named in the query. Bad credentials get a policy-violation close frame
// and nothing else.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	source := s.sourceID(r)
	if !s.admission.Allow(source) {
		metrics.SubscribeTotal.WithLabelValues("throttled").Inc()
		metrics.RateLimited.WithLabelValues("subscribe").Inc()
		s.log.Info("subscribe throttled", zap.String("source", source))
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: errCodeRateLimited})
		return
	}

	query := r.URL.Query()
	room := query.Get("room")
	token := query.Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.SubscribeTotal.WithLabelValues("upgrade_failed").Inc()
		s.log.Debug("websocket upgrade failed", zap.String("source", source), zap.Error(err))
		return
	}

	if !s.hub.Authorize(room, token) {
		metrics.SubscribeTotal.WithLabelValues("unauthorized").Inc()
		s.log.Info("subscribe unauthorized",
			zap.String("source", source),
			zap.String("room_fp", relay.Fingerprint(room)))
		rejectConn(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	if _, err := s.hub.Subscribe(room, r.RemoteAddr, conn); err != nil {
		metrics.SubscribeTotal.WithLabelValues("rejected").Inc()
		s.log.Info("subscribe rejected", zap.String("source", source), zap.Error(err))
		rejectConn(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	metrics.SubscribeTotal.WithLabelValues("accepted").Inc()
}

func rejectConn(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = conn.Close()
}

// handlePublish fans a text payload out to a room. The rate limit is
// charged before the body is read so malformed floods are throttled too.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	source := s.sourceID(r)
	dispatcher := s.hub.Dispatcher()

	if err := dispatcher.Admit(source); err != nil {
		s.writePublishError(w, err)
		return
	}

	body, err := decodePublishBody(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		s.log.Debug("malformed publish body", zap.String("source", source), zap.Error(err))
		s.writePublishError(w, err)
		return
	}

	delivered, err := dispatcher.Deliver(relay.PublishRequest{
		Room:   body.Room,
		Token:  body.Token,
		Text:   coerceText(body.Text),
		Source: source,
	})
	if err != nil {
		s.writePublishError(w, err)
		return
	}

	metrics.PublishTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, publishResponse{OK: true, Delivered: delivered})
}

var errBadRequest = errors.New("bad request")

func decodePublishBody(w http.ResponseWriter, r *http.Request, limit int64) (publishBody, error) {
	var body publishBody
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return body, err
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}

// coerceText turns the "text" field into a string: strings pass through,
// null or absent become "", other JSON values keep their literal text.
func coerceText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return text
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

func (s *Server) writePublishError(w http.ResponseWriter, err error) {
	var rateErr *relay.RateLimitError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &rateErr):
		metrics.PublishTotal.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: errCodeRateLimited})
	case errors.Is(err, relay.ErrUnauthorized):
		metrics.PublishTotal.WithLabelValues("unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized, errorResponse{})
	case errors.As(err, &tooLarge):
		metrics.PublishTotal.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: errCodePayloadTooLarge})
	case errors.Is(err, errBadRequest):
		metrics.PublishTotal.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errCodeBadRequest})
	default:
		metrics.PublishTotal.WithLabelValues("error").Inc()
		s.log.Error("publish failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{})
	}
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true})
}

// handleRoot answers plain-text probes hitting the bare host.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "ClipRelay is running (uptime %s)", s.clock.Since(s.startTime).Truncate(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
