package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks successful reads by backend (file, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmail_cache_hits_total",
			Help: "Total number of cache reads that returned an entry",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks reads of absent entries by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmail_cache_misses_total",
			Help: "Total number of cache reads for absent entries",
		},
		[]string{"backend"},
	)

	// CacheBytesWritten tracks bytes persisted by backend
	CacheBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmail_cache_written_bytes_total",
			Help: "Total number of bytes written to the cache",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmail_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "read", "decode", "encode", "write", "delete"
	)
)
