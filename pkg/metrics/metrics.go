// Package metrics exposes the Prometheus metrics registered by the pipeline
// packages. Each package defines its own metrics via promauto; this package
// only serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registry every pipeline metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Serve reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns a mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server serves Handler on a listener until its context ends.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger.With().Str("component", "metrics").Logger(),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

// Metrics Documentation
//
// Listing (pkg/pagination):
//   - gmail_list_pages_total (Counter): List pages fetched
//   - gmail_list_refs_total (Counter): Message references listed
//
// Batch Fetching (pkg/batch):
//   - gmail_batch_calls_total{outcome} (Counter): Batched get calls (ok, transient, permanent)
//   - gmail_batch_items_total{outcome} (Counter): Sub-request outcomes (success, retry, dropped)
//   - gmail_batch_size (Histogram): Sub-requests per batched get
//
// Retry (pkg/retry):
//   - gmail_retries_total{operation} (Counter): Per-call retry attempts
//   - gmail_retry_backoff_seconds (Histogram): Backoff slept before a retry
//   - gmail_retry_exhausted_total{operation} (Counter): Calls that exhausted their budget
//   - gmail_retry_rounds_total (Counter): Retry rounds over the failed set
//   - gmail_retry_unresolved_total{reason} (Counter): Ids left unresolved by stop reason
//
// Cache (pkg/cache):
//   - gmail_cache_hits_total{backend} (Counter): Reads that returned an entry
//   - gmail_cache_misses_total{backend} (Counter): Reads of absent entries
//   - gmail_cache_written_bytes_total{backend} (Counter): Bytes persisted
//   - gmail_cache_errors_total{backend, operation} (Counter): Cache operation errors
//
// Rate Pacing (pkg/ratelimit):
//   - gmail_ratelimit_throttles_total{limiter} (Counter): Calls delayed by the limiter
//   - gmail_ratelimit_wait_seconds{limiter} (Histogram): Time spent waiting
//
// Example Prometheus Queries:
//
//   # Share of sub-requests needing a retry
//   sum(rate(gmail_batch_items_total{outcome="retry"}[5m])) /
//   sum(rate(gmail_batch_items_total[5m]))
//
//   # Cache hit rate
//   sum(rate(gmail_cache_hits_total[5m])) /
//   (sum(rate(gmail_cache_hits_total[5m])) + sum(rate(gmail_cache_misses_total[5m])))
//
//   # P95 limiter wait
//   histogram_quantile(0.95, rate(gmail_ratelimit_wait_seconds_bucket[5m]))
