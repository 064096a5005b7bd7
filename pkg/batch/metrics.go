package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_batch_calls_total",
		Help: "Total batched get calls by outcome",
	}, []string{"outcome"}) // "ok", "transient", "permanent"

	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_batch_items_total",
		Help: "Total batch sub-request outcomes",
	}, []string{"outcome"}) // "success", "retry", "dropped"

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gmail_batch_size",
		Help:    "Number of sub-requests per batched get",
		Buckets: []float64{1, 10, 25, 50, 75, 100},
	})
)
