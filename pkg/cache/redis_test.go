package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// The integration build tag covers the same store against a container.
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

func TestNewRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewRedisStore(client, 0, zerolog.Nop())
	if store.redis != client {
		t.Error("RedisStore client not set correctly")
	}
	if store.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, DefaultTTL, zerolog.Nop())
}

func TestRedisStore_WriteAndRead(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), DefaultTTL, zerolog.Nop())
	ctx := context.Background()
	key := KeyFor(PrefixMetadata, "in:inbox")

	subject := "hello"
	coll := mail.NewCollection(mail.MessageMetadata{
		ID:     "m1",
		Labels: []string{"INBOX"},
		Fields: mail.Fields{Subject: &subject},
	})
	if err := store.Write(ctx, key, coll); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := mail.NewCollection()
	if err := store.Read(ctx, key, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	m, ok := got.Get("m1")
	if !ok || mail.Value(m.Fields.Subject) != "hello" {
		t.Errorf("Read() = %+v, want subject hello", m)
	}
}

func TestRedisStore_ReadMiss(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), DefaultTTL, zerolog.Nop())

	var refs []mail.MessageRef
	err := store.Read(context.Background(), KeyFor(PrefixMessages, ""), &refs)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisStore_Freshness(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := KeyFor(PrefixMessages, "")

	written := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return written }
	if err := store.Write(ctx, key, []mail.MessageRef{{ID: "a"}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	store.now = func() time.Time { return written.Add(time.Hour - time.Second) }
	if !store.IsFresh(ctx, key) {
		t.Error("entry should be fresh inside the TTL")
	}

	store.now = func() time.Time { return written.Add(time.Hour + time.Second) }
	if store.IsFresh(ctx, key) {
		t.Error("entry should be stale after the TTL")
	}

	var refs []mail.MessageRef
	if err := store.Read(ctx, key, &refs); err != nil || len(refs) != 1 {
		t.Errorf("stale entry should remain readable, got %v (%v)", refs, err)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), DefaultTTL, zerolog.Nop())
	ctx := context.Background()
	key := KeyFor(PrefixMessages, "")

	if err := store.Write(ctx, key, []mail.MessageRef{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	var refs []mail.MessageRef
	if err := store.Read(ctx, key, &refs); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}
