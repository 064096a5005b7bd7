package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestNewRedisWindow_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisWindow should panic with nil redis client")
		}
	}()
	NewRedisWindow(nil, "me", 5, zerolog.Nop())
}

func TestRedisWindow_Key(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	w := NewRedisWindow(client, "me", 0, zerolog.Nop())
	if w.limit != 1 {
		t.Errorf("limit = %d, want 1", w.limit)
	}
	if got := w.key(1700000000); got != "gmail-analyzer:ratelimit:me:1700000000" {
		t.Errorf("key() = %q", got)
	}
}

func TestRedisWindow_Wait(t *testing.T) {
	w := NewRedisWindow(setupTestRedis(t), "me", 2, zerolog.Nop())
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 250_000_000, time.UTC)}
	w.now = clock.Now
	w.sleep = clock.Sleep
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := w.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 750*time.Millisecond {
		t.Errorf("sleeps = %v, want [750ms]", clock.sleeps)
	}
}
