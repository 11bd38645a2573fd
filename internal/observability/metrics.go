package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Actions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_sync", Name: "actions_total", Help: "Trip store actions by name and outcome"},
		[]string{"action", "outcome"},
	)
	Conflicts          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_sync", Name: "conflicts_total", Help: "Conditional writes lost to a concurrent writer"})
	EventsApplied      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_sync", Name: "change_events_applied_total", Help: "Change-feed events merged into local state"})
	EventsDiscarded    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_sync", Name: "change_events_discarded_total", Help: "Stale change-feed events discarded by version gate"})
	QueueDepth         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_sync", Name: "offline_queue_depth", Help: "Unreplayed offline queue items"})
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_sync", Name: "settlement_failures_total", Help: "Settlement calls that failed after a completed trip"})
	TripVersion        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_sync", Name: "trip_version", Help: "Version of the locally held trip"})

	FeedClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_sync", Name: "feed_claims_total", Help: "Claim attempts by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_sync", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_sync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
