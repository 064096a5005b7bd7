// Package retry classifies provider errors and drives the two retry loops of
// the fetch pipeline: per-call retry inside one remote call, and per-round
// retry across the accumulated failed id set.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Policy holds the backoff configuration.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay (before jitter).
	MaxDelay time.Duration

	// JitterFraction is the upper bound of the uniform jitter, as a
	// fraction of the delay.
	JitterFraction float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     5,
		BaseDelay:      1 * time.Second,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0.1,
	}
}

// Delay returns min(MaxDelay, BaseDelay * 2^attempt) for a zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Backoff returns Delay(attempt) plus u * JitterFraction of it, where u is a
// uniform sample in [0, 1).
func (p Policy) Backoff(attempt int, u float64) time.Duration {
	d := p.Delay(attempt)
	return d + time.Duration(u*p.JitterFraction*float64(d))
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits with context cancellation support.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Retrier executes remote calls with exponential backoff.
type Retrier struct {
	Policy Policy
	Sleep  SleepFunc
	Rand   func() float64
	logger zerolog.Logger
}

// New creates a Retrier with the given policy.
func New(policy Policy, logger zerolog.Logger) *Retrier {
	return &Retrier{
		Policy: policy,
		Sleep:  Sleep,
		Rand:   rand.Float64,
		logger: logger.With().Str("component", "retry").Logger(),
	}
}

// Do runs fn, retrying transient errors up to Policy.MaxRetries times.
// Permanent errors are returned as-is. When the retry budget is exhausted the
// last error is wrapped with ErrRetryExhausted.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt+1).
					Msg("Call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= r.Policy.MaxRetries {
			break
		}

		wait := r.Policy.Backoff(attempt, r.Rand())
		retriesTotal.WithLabelValues(operation).Inc()
		retryBackoffSeconds.Observe(wait.Seconds())

		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Rate limit or transient error, retrying")

		if err := r.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	retryExhaustedTotal.WithLabelValues(operation).Inc()
	r.logger.Warn().
		Str("operation", operation).
		Int("max_retries", r.Policy.MaxRetries).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, r.Policy.MaxRetries, lastErr)
}
