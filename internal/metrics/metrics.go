package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflash_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflash_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflash_backend_requests_total",
			Help: "Total number of response backend calls by outcome",
		},
		[]string{"backend", "outcome"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflash_backend_duration_seconds",
			Help:    "Duration of response backend calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)

	WorkflowsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflash_workflows_generated_total",
			Help: "Total number of workflow generation attempts by scenario and outcome",
		},
		[]string{"scenario", "outcome"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loanflash_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
