package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the freshness window of a cache entry.
const DefaultTTL = 86400 * time.Second

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is unreadable, corrupted or
	// written by an incompatible schema version.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store persists collections keyed by Key.
//
// Freshness is advisory: a stale entry is still returned by Read so callers
// can resume from it.
type Store interface {
	// Read decodes the entry for key into dst. Returns ErrCacheMiss when the
	// entry does not exist and ErrInvalidEntry when it cannot be decoded.
	Read(ctx context.Context, key Key, dst any) error

	// IsFresh reports whether the entry exists and was written less than TTL ago.
	IsFresh(ctx context.Context, key Key) bool

	// Write replaces the entry for key with v.
	Write(ctx context.Context, key Key, v any) error

	// Delete removes the entry for key. Deleting a missing entry is not an error.
	Delete(ctx context.Context, key Key) error
}

// IsMiss reports whether err should be handled as a cache miss. Corrupt
// entries are treated the same as absent ones.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrInvalidEntry)
}
