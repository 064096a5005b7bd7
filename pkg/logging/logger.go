// Package logging configures the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// RunID tags every entry of one invocation. Generated when empty.
	RunID string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("run_id", cfg.RunID).
		Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level. "warning" is
// accepted as an alias for warn.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a child of the global logger for component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-call detail
//   - Listed pages and batch call sizes
//   - Per-call retry attempts and backoff delays
//   - Ids left for retry after a batch
//
// Info: progress of a run
//   - Cache hits (fresh or stale resume)
//   - Listing and main-pass progress
//   - Retry round start and loop outcome
//
// Warn: data loss that does not stop the run
//   - Ids dropped after a permanent error
//   - Unreadable cache entries ignored
//   - Limiter throttling
//
// Error: conditions requiring attention
//   - Cache writes that failed
//   - Listing or fetch aborted
//
// Context Fields:
//   - run_id: invocation id
//   - component: emitting package
//   - query: Gmail search query
//   - key: cache key
//   - id: message id
//   - round, attempt, delay: retry state
//   - status, reason: Gmail error details
