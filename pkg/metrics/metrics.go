package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergesApplied counts inbound party merges by outcome (applied|stale).
	MergesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_merges_total",
			Help: "Total number of inbound party state merges",
		},
		[]string{"outcome"},
	)

	// DriftSeeks counts seek commands issued by drift correction.
	DriftSeeks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_drift_seeks_total",
			Help: "Total number of playback seeks issued to correct drift",
		},
	)

	// WriteConflicts counts conditional writes that lost a version race.
	WriteConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_write_conflicts_total",
			Help: "Total number of conditional party writes rejected by version conflict",
		},
	)

	// ReconnectAttempts records reconnect attempts by result (success|failure).
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_reconnect_attempts_total",
			Help: "Total number of reconnect attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks engine sessions currently joined to a party.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchparty_active_sessions",
			Help: "Number of active watch party sessions",
		},
	)

	// ChatMessages counts chat messages accepted by the service by kind (user|system).
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_chat_messages_total",
			Help: "Total number of chat messages appended to party transcripts",
		},
		[]string{"kind"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchparty_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
