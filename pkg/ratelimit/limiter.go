// Package ratelimit paces outbound Gmail API calls so a run stays below the
// per-user quota instead of repeatedly running into 429 responses.
//
// Two limiters are provided:
//   - TokenBucket paces calls within one process.
//   - RedisWindow shares a per-second call budget between processes that
//     use the same Redis instance and name.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate pacing.
var (
	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmail_ratelimit_throttles_total",
		Help: "Total number of calls delayed by the rate limiter",
	}, []string{"limiter"})

	throttleWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gmail_ratelimit_wait_seconds",
		Help:    "Time spent waiting for the rate limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"limiter"})
)

// Limiter blocks until the next call may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never waits.
type Unlimited struct{}

// Wait implements Limiter.
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
