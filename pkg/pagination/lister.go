package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

// ErrListingFailed is returned when a page could not be fetched. No partial
// result accompanies it.
var ErrListingFailed = errors.New("listing failed")

var (
	listPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmail_list_pages_total",
		Help: "Total number of listing pages fetched",
	})

	listRefsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmail_list_refs_total",
		Help: "Total number of message references returned by listings",
	})
)

// Config holds lister configuration
type Config struct {
	// ProgressEvery is the page interval between progress log lines
	ProgressEvery int
}

// DefaultConfig returns the default lister configuration
func DefaultConfig() Config {
	return Config{
		ProgressEvery: 10,
	}
}

// PageFetcher fetches the page addressed by cursor. An empty cursor requests
// the first page.
type PageFetcher func(ctx context.Context, cursor string) (mail.ListPage, error)

// Lister follows list cursors to the end, one page at a time.
type Lister struct {
	config  Config
	retrier *retry.Retrier
	logger  zerolog.Logger
}

// NewLister creates a new lister
func NewLister(config Config, retrier *retry.Retrier, logger zerolog.Logger) *Lister {
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = DefaultConfig().ProgressEvery
	}
	return &Lister{
		config:  config,
		retrier: retrier,
		logger:  logger.With().Str("component", "lister").Logger(),
	}
}

// ListQuery lists every message of user matching query. An empty query lists
// all messages.
func (l *Lister) ListQuery(ctx context.Context, client mail.Client, user, query string) ([]mail.MessageRef, error) {
	return l.ListAll(ctx, func(ctx context.Context, cursor string) (mail.ListPage, error) {
		return client.List(ctx, user, query, cursor)
	})
}

// ListAll fetches pages until NextCursor is empty and returns the
// concatenated references in page order.
func (l *Lister) ListAll(ctx context.Context, fetch PageFetcher) ([]mail.MessageRef, error) {
	start := time.Now()
	refs := make([]mail.MessageRef, 0)
	cursor := ""
	pages := 0
	estimate := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w after %d pages: %w", ErrListingFailed, pages, err)
		}

		var page mail.ListPage
		err := l.retrier.Do(ctx, "list", func(ctx context.Context) error {
			p, err := fetch(ctx, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			l.logger.Error().
				Err(err).
				Int("page", pages+1).
				Int("fetched", len(refs)).
				Msg("Listing aborted")
			return nil, fmt.Errorf("%w at page %d: %w", ErrListingFailed, pages+1, err)
		}

		pages++
		listPagesTotal.Inc()
		listRefsTotal.Add(float64(len(page.Refs)))
		refs = append(refs, page.Refs...)

		if pages == 1 {
			estimate = page.Estimate
			l.logger.Info().
				Int("estimate", estimate).
				Msg("Listing messages")
		}

		if pages%l.config.ProgressEvery == 0 {
			ev := l.logger.Info().
				Int("pages", pages).
				Int("fetched", len(refs)).
				Int("estimate", estimate)
			if estimate > 0 {
				ev = ev.Float64("progress_pct", float64(len(refs))/float64(estimate)*100)
			}
			ev.Msg("Listing progress")
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	l.logger.Info().
		Int("pages", pages).
		Int("refs", len(refs)).
		Dur("duration", time.Since(start)).
		Msg("Listing complete")

	return refs, nil
}
