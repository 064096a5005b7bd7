package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenBucket is a fixed-rate limiter allowing bursts of up to burst calls.
type TokenBucket struct {
	limiter *rate.Limiter

	now    func() time.Time
	sleep  sleepFunc
	logger zerolog.Logger
}

// New returns a TokenBucket for rps calls per second, or Unlimited when
// rps <= 0.
func New(rps float64, burst int, logger zerolog.Logger) Limiter {
	if rps <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(rps, burst, logger)
}

// NewTokenBucket creates a bucket that starts full. burst < 1 is raised to 1.
func NewTokenBucket(rps float64, burst int, logger zerolog.Logger) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
		sleep:   sleepCtx,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Wait takes one token, sleeping until it is available. A cancelled wait
// hands its reservation back.
func (b *TokenBucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := b.now()
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	if wait <= 0 {
		return nil
	}

	throttlesTotal.WithLabelValues("bucket").Inc()
	throttleWaitSeconds.WithLabelValues("bucket").Observe(wait.Seconds())
	b.logger.Debug().Dur("wait", wait).Msg("Throttling call")

	if err := b.sleep(ctx, wait); err != nil {
		r.CancelAt(b.now())
		return err
	}
	return nil
}

var _ Limiter = (*TokenBucket)(nil)
