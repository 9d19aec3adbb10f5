package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	adminRequestsTotal     *prometheus.CounterVec
	adminLatencySeconds    *prometheus.HistogramVec
	adminErrorsTotal       *prometheus.CounterVec
	reviewTransitionsTotal *prometheus.CounterVec
	pointsAwardedTotal     *prometheus.CounterVec
	webhookEventsTotal     *prometheus.CounterVec
	refreshDuration        *prometheus.HistogramVec
	refreshFailuresTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the core services.
func RegisterMetrics() {
	registerOnce.Do(func() {
		adminRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_requests_total",
			Help: "Total number of admin API requests served.",
		}, []string{"method", "route", "status"})

		adminLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_latency_seconds",
			Help:    "Latency distribution for admin API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		adminErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_errors_total",
			Help: "Total number of error responses returned by admin endpoints.",
		}, []string{"method", "route", "status"})

		reviewTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_transitions_total",
			Help: "Submission status transitions committed, by action.",
		}, []string{"action"})

		pointsAwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Sum of ledger deltas committed, by ledger source.",
		}, []string{"source"})

		webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "External completion events handled, by outcome.",
		}, []string{"outcome"})

		refreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregate_refresh_duration_seconds",
			Help:    "Duration of aggregate view refreshes.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"view"})

		refreshFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregate_refresh_failures_total",
			Help: "Aggregate view refreshes that failed and kept the previous snapshot.",
		}, []string{"view"})

		prometheus.MustRegister(
			adminRequestsTotal,
			adminLatencySeconds,
			adminErrorsTotal,
			reviewTransitionsTotal,
			pointsAwardedTotal,
			webhookEventsTotal,
			refreshDuration,
			refreshFailuresTotal,
		)
	})
}

// AdminRequests exposes the counter for admin requests.
func AdminRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return adminRequestsTotal
}

// AdminLatency exposes the latency histogram for admin requests.
func AdminLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return adminLatencySeconds
}

// AdminErrors exposes the counter for admin error responses.
func AdminErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return adminErrorsTotal
}

// ReviewTransitions counts committed review transitions.
func ReviewTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewTransitionsTotal
}

// PointsAwarded sums committed ledger deltas.
func PointsAwarded() *prometheus.CounterVec {
	RegisterMetrics()
	return pointsAwardedTotal
}

// WebhookEvents counts ingestion outcomes.
func WebhookEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return webhookEventsTotal
}

// RefreshDuration observes view refresh durations.
func RefreshDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return refreshDuration
}

// RefreshFailures counts failed view refreshes.
func RefreshFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return refreshFailuresTotal
}
