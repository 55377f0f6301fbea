package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventhub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventhub_ws_active_connections",
			Help: "Currently open websocket connections on this instance",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_ws_auth_failures_total",
			Help: "Rejected websocket authentications",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_presence_transitions_total",
			Help: "Online/offline transitions",
		},
		[]string{"state"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"kind"}, // "direct" or "support"
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_messages_delivered_live_total",
			Help: "Messages pushed to an online recipient",
		},
	)

	SupportSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_support_sessions_total",
			Help: "Support sessions started or resumed",
		},
		[]string{"outcome"}, // "new", "resumed", "unavailable"
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_notifications_created_total",
			Help: "Notifications persisted",
		},
		[]string{"type"},
	)

	NotificationsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_notifications_pushed_total",
			Help: "Notifications pushed live",
		},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_notification_failures_total",
			Help: "Notifications that failed to persist",
		},
	)

	TypingSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_typing_signals_total",
			Help: "Typing signals relayed or dropped",
		},
		[]string{"result"}, // "relayed" or "dropped"
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_kafka_events_consumed_total",
			Help: "Domain events read from Kafka",
		},
		[]string{"topic"},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_kafka_events_forwarded_total",
			Help: "Chat events handed to the Kafka producer",
		},
		[]string{"result"}, // "written", "failed" or "dropped"
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventhub_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend"},
	)
)
