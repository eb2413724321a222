package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Family label values.
const (
	FamilyPortfolio = "portfolio"
	FamilyPublic    = "public"
	FamilyPayments  = "payments"
)

// Discard reasons.
const (
	ReasonNoEntry     = "no_entry"
	ReasonNoReceivers = "no_receivers"
)

// Feed outcomes.
const (
	OutcomeRouted     = "routed"
	OutcomeParseError = "parse_error"
	OutcomeUnknown    = "unknown"
	OutcomeDropped    = "dropped"
)

// Registry Metrics
var (
	// RegistryEntries tracks per-user entries created, by family. Entries are never removed.
	RegistryEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_registry_entries",
			Help: "Per-user registry entries by family",
		},
		[]string{"family"},
	)

	// MessagesPublished counts sends that reached at least one receiver.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_published_total",
			Help: "Messages delivered to at least one receiver, by family",
		},
		[]string{"family"},
	)

	// MessagesDiscarded counts sends that had nobody to deliver to.
	MessagesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_discarded_total",
			Help: "Messages discarded by family and reason (no_entry/no_receivers)",
		},
		[]string{"family", "reason"},
	)

	// ReceiverLagged counts messages missed by receivers that fell behind.
	ReceiverLagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_receiver_lagged_messages_total",
			Help: "Messages skipped by lagging receivers, by family",
		},
		[]string{"family"},
	)
)

// WebSocket Metrics
var (
	// WebSocketSessionsCurrent tracks open WebSocket sessions.
	WebSocketSessionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_websocket_sessions_current",
			Help: "Open WebSocket sessions by kind (user/anonymous)",
		},
		[]string{"kind"},
	)

	// WebSocketSessionsTotal counts accepted WebSocket sessions.
	WebSocketSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_websocket_sessions_total",
			Help: "Total WebSocket sessions accepted",
		},
	)

	// WebSocketFramesSent counts frames written, by family.
	WebSocketFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_websocket_frames_sent_total",
			Help: "WebSocket frames written by family",
		},
		[]string{"family"},
	)

	// WebSocketWriteFailures counts failed writes (data or ping).
	WebSocketWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_websocket_write_failures_total",
			Help: "WebSocket write failures",
		},
	)

	// WebSocketAuthFailures counts rejected user assertions.
	WebSocketAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_websocket_auth_failures_total",
			Help: "WebSocket upgrades rejected because the user assertion did not verify",
		},
	)
)

// Feed Metrics
var (
	// FeedNotifications counts Postgres notifications by channel and outcome.
	FeedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_feed_notifications_total",
			Help: "Feed notifications by channel and outcome (routed/parse_error/unknown/dropped)",
		},
		[]string{"channel", "outcome"},
	)

	// FeedReconnects counts listener reconnect attempts.
	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_feed_reconnects_total",
			Help: "Feed listener reconnect attempts",
		},
	)

	// FeedConnected is 1 while the listener holds a LISTENing connection.
	FeedConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_feed_connected",
			Help: "1 while the feed listener is connected",
		},
	)
)
