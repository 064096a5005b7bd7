package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix namespaces the per-second counters of RedisWindow.
const RedisKeyPrefix = "gmail-analyzer:ratelimit:"

// RedisWindow allows at most limit calls per wall-clock second across every
// process sharing the Redis instance and name.
type RedisWindow struct {
	redis  *redis.Client
	name   string
	limit  int64
	now    func() time.Time
	sleep  sleepFunc
	logger zerolog.Logger
}

// NewRedisWindow creates a shared limiter. name is usually the mailbox user.
func NewRedisWindow(redisClient *redis.Client, name string, limit int, logger zerolog.Logger) *RedisWindow {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if limit < 1 {
		limit = 1
	}
	return &RedisWindow{
		redis:  redisClient,
		name:   name,
		limit:  int64(limit),
		now:    time.Now,
		sleep:  sleepCtx,
		logger: logger.With().Str("component", "ratelimit").Str("window", name).Logger(),
	}
}

func (w *RedisWindow) key(sec int64) string {
	return fmt.Sprintf("%s%s:%d", RedisKeyPrefix, w.name, sec)
}

// Wait implements Limiter.
func (w *RedisWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := w.now()
		sec := now.Unix()
		key := w.key(sec)

		pipe := w.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("increment rate window: %w", err)
		}

		if incr.Val() <= w.limit {
			return nil
		}

		wait := time.Unix(sec+1, 0).Sub(now)
		throttlesTotal.WithLabelValues("redis").Inc()
		throttleWaitSeconds.WithLabelValues("redis").Observe(wait.Seconds())
		w.logger.Debug().
			Int64("count", incr.Val()).
			Int64("limit", w.limit).
			Dur("wait", wait).
			Msg("Shared rate window full, waiting")

		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

var _ Limiter = (*RedisWindow)(nil)
