package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "text", "image", "file"
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	CallsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_calls_initiated_total",
			Help: "Total calls initiated",
		},
		[]string{"kind"}, // "voice" or "video"
	)

	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_call_transitions_total",
			Help: "Total call state transitions",
		},
		[]string{"status"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_notifications_created_total",
			Help: "Total notifications created",
		},
		[]string{"kind"},
	)

	// Realtime metrics
	FeedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_feed_events_total",
			Help: "Total change-feed events published",
		},
		[]string{"collection", "event"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_ws_connections",
			Help: "Currently connected WebSocket sessions",
		},
	)

	PresenceJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_presence_joins_total",
			Help: "Total presence channel joins",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
