package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const backendFile = "file"

// FileConfig configures a FileStore.
type FileConfig struct {
	// Dir is the cache directory, created lazily on first write.
	Dir string

	// TTL is the freshness window.
	TTL time.Duration

	// Now returns the current time.
	Now func() time.Time
}

// DefaultFileConfig returns the default file cache configuration.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Dir: "cache",
		TTL: DefaultTTL,
		Now: time.Now,
	}
}

// FileStore keeps one JSON file per key. The file modification time is the
// sole freshness signal.
type FileStore struct {
	config FileConfig
	logger zerolog.Logger
}

// NewFileStore creates a file-backed store.
func NewFileStore(cfg FileConfig, logger zerolog.Logger) *FileStore {
	def := DefaultFileConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &FileStore{
		config: cfg,
		logger: logger.With().Str("component", "file-cache").Logger(),
	}
}

// Path returns the file path used for key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.config.Dir, key.String()+".json")
}

// Read implements Store.
func (s *FileStore) Read(_ context.Context, key Key, dst any) error {
	path := s.Path(key)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			CacheMisses.WithLabelValues(backendFile).Inc()
			return ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendFile, "read").Inc()
		return fmt.Errorf("%w: read %s: %v", ErrInvalidEntry, path, err)
	}

	if _, err := decodeEnvelope(key, data, dst); err != nil {
		CacheErrors.WithLabelValues(backendFile, "decode").Inc()
		return fmt.Errorf("decode %s: %w", path, err)
	}

	CacheHits.WithLabelValues(backendFile).Inc()
	s.logger.Debug().Str("key", key.String()).Int("bytes", len(data)).Msg("Cache read")
	return nil
}

// IsFresh implements Store.
func (s *FileStore) IsFresh(_ context.Context, key Key) bool {
	info, err := os.Stat(s.Path(key))
	if err != nil {
		return false
	}
	return s.config.Now().Sub(info.ModTime()) < s.config.TTL
}

// Write implements Store. The entry is written to a temporary file, synced
// and renamed over the previous one, so a crash never truncates a valid entry.
func (s *FileStore) Write(_ context.Context, key Key, v any) error {
	data, err := encodeEnvelope(key, v, s.config.Now())
	if err != nil {
		CacheErrors.WithLabelValues(backendFile, "encode").Inc()
		return err
	}

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		CacheErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("create cache dir: %w", err)
	}

	if err := renameio.WriteFile(s.Path(key), data, 0o600); err != nil {
		CacheErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("write cache file: %w", err)
	}

	CacheBytesWritten.WithLabelValues(backendFile).Add(float64(len(data)))
	s.logger.Debug().Str("key", key.String()).Int("bytes", len(data)).Msg("Cache written")
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		CacheErrors.WithLabelValues(backendFile, "delete").Inc()
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
