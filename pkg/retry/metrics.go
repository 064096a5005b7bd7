package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_retries_total",
		Help: "Total number of per-call retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gmail_retry_backoff_seconds",
		Help:    "Backoff duration slept before a retry",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_retry_exhausted_total",
		Help: "Total number of calls that exhausted their retry budget by operation",
	}, []string{"operation"})

	retryRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmail_retry_rounds_total",
		Help: "Total number of retry rounds executed over the failed id set",
	})

	retryUnresolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_retry_unresolved_total",
		Help: "Ids left unresolved when the round loop stopped, by stop reason",
	}, []string{"reason"})
)
