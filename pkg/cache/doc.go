// Package cache persists fetched message collections so repeated runs avoid
// redundant network traffic.
//
// Entries are keyed by a collection prefix and an optional query
// fingerprint:
//
//	cache.KeyFor(cache.PrefixMetadata, "label:work") // metadata_<10 hex chars>
//	cache.KeyFor(cache.PrefixMessages, "")           // messages
//
// # Backends
//
// FileStore (default) writes one JSON file per key under a cache directory
// and uses the file modification time as the freshness signal. Writes go to
// a temporary file that is renamed into place.
//
//	store := cache.NewFileStore(cache.FileConfig{Dir: "cache", TTL: cache.DefaultTTL}, logger)
//	if err := store.Read(ctx, key, &coll); cache.IsMiss(err) {
//		// fetch from the network
//	}
//
// RedisStore keeps the same entries in Redis and derives freshness from the
// envelope timestamp.
//
// # Freshness
//
// Freshness is advisory. Fresh entries may short-circuit a network call;
// stale entries are still readable and are used to resume a partial fetch.
//
// # Schema
//
// Every entry is wrapped in a versioned envelope. An entry written with a
// different SchemaVersion is reported as ErrInvalidEntry and refetched rather
// than decoded into mismatched fields.
//
// # Metrics
//
//   - gmail_cache_hits_total{backend}
//   - gmail_cache_misses_total{backend}
//   - gmail_cache_written_bytes_total{backend}
//   - gmail_cache_errors_total{backend,operation}
package cache
