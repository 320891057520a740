package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MutationsEnqueued tracks mutations added to the pending queue
	MutationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driversync_mutations_enqueued_total",
			Help: "Total number of mutations added to the pending queue",
		},
		[]string{"kind"},
	)

	// MutationsConfirmed tracks mutations confirmed by the backend
	MutationsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driversync_mutations_confirmed_total",
			Help: "Total number of mutations confirmed by the backend",
		},
		[]string{"kind"},
	)

	// MutationsRejected tracks mutations terminally rejected
	MutationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driversync_mutations_rejected_total",
			Help: "Total number of mutations terminally rejected",
		},
		[]string{"kind", "error_kind"},
	)

	// QueueDepth tracks the current pending queue length
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driversync_queue_depth",
			Help: "Current number of pending mutations",
		},
	)

	// APIRequests tracks backend calls by operation and outcome
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driversync_api_requests_total",
			Help: "Total number of backend API calls",
		},
		[]string{"operation", "outcome"},
	)

	// Online reports the last observed reachability state
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driversync_online",
			Help: "Whether the backend is currently reachable (1) or not (0)",
		},
	)

	// DrainDuration tracks how long queue drains take
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driversync_drain_duration_seconds",
			Help:    "Duration of pending queue drains in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
