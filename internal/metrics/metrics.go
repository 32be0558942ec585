package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Local HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total local API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Local API request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Push channel
	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_total",
			Help: "Push events routed, by kind",
		},
		[]string{"kind"},
	)

	PushDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_dropped_total",
			Help: "Push events dropped before reaching the store",
		},
		[]string{"reason"}, // "malformed" or "unknown_kind"
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_push_reconnects_total",
			Help: "Push channel reconnect attempts",
		},
	)

	// Sends
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Outbound sends by outcome",
		},
		[]string{"result"}, // "sent", "failed", "timeout"
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_send_duration_seconds",
			Help:    "Outbound send round trip",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	PendingSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_pending_sends",
			Help: "Sends awaiting server confirmation",
		},
	)

	ReceiptsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_read_receipts_emitted_total",
			Help: "Message ids reported read to the backend",
		},
	)

	// Reconciliation
	Duplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicate_deliveries_total",
			Help: "Messages ignored because their id was already present",
		},
	)

	OrphanReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_orphan_receipts_total",
			Help: "Read receipts that referenced an unknown message",
		},
		[]string{"outcome"}, // "buffered", "applied", "expired"
	)

	EnginePanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_engine_panics_total",
			Help: "Events whose processing panicked and was discarded",
		},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_bus_dropped_total",
			Help: "Notifications lost to a full subscriber buffer",
		},
		[]string{"namespace"},
	)
)
