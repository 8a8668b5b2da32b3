// Package metrics declares the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cliprelay"

// Subscription metrics
var (
	// SessionsConnected tracks live subscriber sessions across all rooms
	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_connected",
		Help:      "Number of live subscriber sessions",
	})

	// RoomsActive tracks rooms with at least one subscriber
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Number of rooms with at least one subscriber",
	})

	// SubscribeTotal counts subscribe attempts by result (accepted/unauthorized/throttled/upgrade_failed)
	SubscribeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribe_total",
		Help:      "Subscribe attempts by result",
	}, []string{"result"})

	// SessionsClosed counts closed sessions by reason
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Closed subscriber sessions by reason",
	}, []string{"reason"})

	// HeartbeatEvictions counts sessions terminated for missing pongs
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_evictions_total",
		Help:      "Sessions terminated because no pong arrived within the client timeout",
	})
)

// Publish metrics
var (
	// PublishTotal counts publish requests by result (ok/unauthorized/rate_limited/bad_request/error)
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_total",
		Help:      "Publish requests by result",
	}, []string{"result"})

	// MessagesDelivered counts payloads handed to subscriber queues
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Payloads enqueued to subscriber sessions",
	})

	// SendFailures counts per-session delivery failures by reason
	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Per-session delivery failures by reason",
	}, []string{"reason"})

	// FanoutDuration tracks the time taken to fan a payload out to a room
	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fanout_duration_seconds",
		Help:      "Time spent fanning a payload out to a room",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
	})
)

// Rate limiting metrics
var (
	// RateLimited counts denied requests by limiter
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests denied by a rate limiter",
	}, []string{"limiter"})

	// RateBuckets tracks live fixed-window buckets
	RateBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_buckets",
		Help:      "Live publish rate-limit buckets",
	})
)
