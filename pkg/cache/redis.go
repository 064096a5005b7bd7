package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	backendRedis = "redis"

	// redisKeyPrefix namespaces all keys written by RedisStore.
	redisKeyPrefix = "gmail-analyzer:"
)

// RedisStore keeps cache entries in Redis. Entries never expire in Redis:
// stale entries are still needed to resume an interrupted fetch. Freshness
// is derived from the envelope's written_at timestamp.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  redisClient,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "redis-cache").Logger(),
	}
}

func (s *RedisStore) redisKey(key Key) string {
	return redisKeyPrefix + key.String()
}

func (s *RedisStore) load(ctx context.Context, key Key, dst any) (Envelope, error) {
	data, err := s.redis.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return Envelope{}, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendRedis, "read").Inc()
		return Envelope{}, fmt.Errorf("redis get: %w", err)
	}

	env, err := decodeEnvelope(key, data, dst)
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "decode").Inc()
		return Envelope{}, err
	}
	CacheHits.WithLabelValues(backendRedis).Inc()
	return env, nil
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, key Key, dst any) error {
	_, err := s.load(ctx, key, dst)
	return err
}

// IsFresh implements Store.
func (s *RedisStore) IsFresh(ctx context.Context, key Key) bool {
	var discard any
	env, err := s.load(ctx, key, &discard)
	if err != nil {
		return false
	}
	return s.now().Sub(env.WrittenAt) < s.ttl
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, key Key, v any) error {
	data, err := encodeEnvelope(key, v, s.now())
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "encode").Inc()
		return err
	}

	if err := s.redis.Set(ctx, s.redisKey(key), data, 0).Err(); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "write").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheBytesWritten.WithLabelValues(backendRedis).Add(float64(len(data)))
	s.logger.Debug().Str("key", key.String()).Int("bytes", len(data)).Msg("Cache written")
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, s.redisKey(key)).Err(); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
