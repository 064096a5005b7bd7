// Package pipeline ties listing, batched metadata fetching, round retries
// and the cache together into the operations a host program calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/batch"
	"github.com/Sternrassler/gmail-analyzer/pkg/cache"
	"github.com/Sternrassler/gmail-analyzer/pkg/filter"
	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/pagination"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

// ErrNoCachedData is returned by cache-only operations when no readable
// metadata cache exists.
var ErrNoCachedData = errors.New("no cached metadata")

// Config holds the processor configuration.
type Config struct {
	// User is the mailbox owner, "me" for the authenticated account.
	User string

	// Query is the Gmail search query. Empty means every message.
	Query string

	// MaxRetryRounds bounds the round retry loop. 0 means unlimited.
	MaxRetryRounds int

	// Batch sizes of the main pass and of retry rounds, at most
	// batch.MaxBatchSize
	BatchSize      int
	RetryBatchSize int

	// Headers requested for every message
	Headers []string

	// Retry is the per-call and per-round backoff policy.
	Retry retry.Policy
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		User:           "me",
		MaxRetryRounds: 5,
		BatchSize:      batch.DefaultBatchSize,
		RetryBatchSize: batch.DefaultRetryBatchSize,
		Headers:        mail.DefaultHeaders(),
		Retry:          retry.DefaultPolicy(),
	}
}

// Summary describes how a metadata collection was assembled.
type Summary struct {
	Fetched    int
	FromCache  int
	Dropped    int
	Unresolved int
	Rounds     int
	StopReason retry.StopReason
}

// Processor runs the fetch-and-cache pipeline for one user and query.
type Processor struct {
	config   Config
	client   mail.Client
	store    cache.Store
	retrier  *retry.Retrier
	rounds   *retry.RoundRunner
	lister   *pagination.Lister
	fetcher  *batch.Fetcher
	resolver *filter.Resolver
	logger   zerolog.Logger
}

// New creates a processor.
func New(cfg Config, client mail.Client, store cache.Store, logger zerolog.Logger) (*Processor, error) {
	if client == nil {
		return nil, fmt.Errorf("mail client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}

	def := DefaultConfig()
	if cfg.MaxRetryRounds < 0 {
		cfg.MaxRetryRounds = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = def.RetryBatchSize
	}
	if cfg.BatchSize > batch.MaxBatchSize {
		logger.Warn().Int("batch_size", cfg.BatchSize).Int("max", batch.MaxBatchSize).Msg("Batch size above limit, clamping")
		cfg.BatchSize = batch.MaxBatchSize
	}
	if cfg.RetryBatchSize > batch.MaxBatchSize {
		logger.Warn().Int("retry_batch_size", cfg.RetryBatchSize).Int("max", batch.MaxBatchSize).Msg("Retry batch size above limit, clamping")
		cfg.RetryBatchSize = batch.MaxBatchSize
	}
	if len(cfg.Headers) == 0 {
		cfg.Headers = def.Headers
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = def.Retry
	}

	retrier := retry.New(cfg.Retry, logger)
	lister := pagination.NewLister(pagination.DefaultConfig(), retrier, logger)

	return &Processor{
		config:   cfg,
		client:   client,
		store:    store,
		retrier:  retrier,
		rounds:   retry.NewRoundRunner(cfg.Retry, logger),
		lister:   lister,
		fetcher:  batch.NewFetcher(client, retrier, cfg.User, cfg.Headers, logger),
		resolver: filter.NewResolver(client, lister, logger),
		logger:   logger.With().Str("component", "processor").Str("query", cfg.Query).Logger(),
	}, nil
}

// OnBatch registers a progress hook called after every main-pass batch.
func (p *Processor) OnBatch(fn func(done, total int)) {
	p.fetcher.OnBatch = fn
}

// GetMessageRefs returns every message reference matching the query. A
// fresh cache entry is returned as-is unless forceRefresh is set; otherwise
// the listing is fetched and cached.
func (p *Processor) GetMessageRefs(ctx context.Context, forceRefresh bool) ([]mail.MessageRef, error) {
	key := cache.KeyFor(cache.PrefixMessages, p.config.Query)

	if !forceRefresh && p.store.IsFresh(ctx, key) {
		var refs []mail.MessageRef
		err := p.store.Read(ctx, key, &refs)
		if err == nil {
			if refs == nil {
				refs = []mail.MessageRef{}
			}
			p.logger.Info().Int("messages", len(refs)).Msg("Loading messages from cache")
			return refs, nil
		}
		p.logger.Warn().Err(err).Str("key", key.String()).Msg("Ignoring unreadable message cache")
	}

	refs, err := p.lister.ListQuery(ctx, p.client, p.config.User, p.config.Query)
	if err != nil {
		return nil, err
	}

	p.persist(ctx, key, refs)
	return refs, nil
}

// GetMetadata returns metadata for refs. Unless forceRefresh is set, a
// readable cache entry (fresh or stale) is loaded and only the refs missing
// from it are fetched.
//
// If the main pass fails or ctx is cancelled, the records gathered so far
// are still written to the cache before the error is returned.
func (p *Processor) GetMetadata(ctx context.Context, refs []mail.MessageRef, forceRefresh bool) (*mail.Collection, Summary, error) {
	key := cache.KeyFor(cache.PrefixMetadata, p.config.Query)
	merged := mail.NewCollection()
	pending := mail.RefIDs(refs)
	var sum Summary

	if !forceRefresh {
		fresh := p.store.IsFresh(ctx, key)
		cached := mail.NewCollection()
		err := p.store.Read(ctx, key, cached)
		switch {
		case err == nil:
			if fresh {
				p.logger.Info().Int("messages", cached.Len()).Msg("Loading message metadata from cache")
			} else {
				p.logger.Info().Int("messages", cached.Len()).Msg("Loading stale metadata cache to resume")
			}
			merged = cached
			sum.FromCache = cached.Len()
			pending = missing(pending, cached)
			if len(pending) == 0 {
				return merged, sum, nil
			}
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			p.logger.Warn().Err(err).Str("key", key.String()).Msg("Ignoring unreadable metadata cache")
		}
	}

	res, err := p.fetcher.Fetch(ctx, pending, p.config.BatchSize)
	if err != nil {
		merged.Merge(res.Successes)
		sum.Fetched = res.Successes.Len()
		sum.Dropped = len(res.Dropped)
		sum.Unresolved = res.Failed.Len()
		p.persist(ctx, key, merged)
		return merged, sum, fmt.Errorf("fetch metadata: %w", err)
	}

	report := p.rounds.Run(ctx, res.Failed, p.config.MaxRetryRounds,
		p.fetcher.RoundFunc(p.config.RetryBatchSize, res))

	merged.Merge(res.Successes)
	sum.Fetched = res.Successes.Len()
	sum.Dropped = len(res.Dropped)
	sum.Unresolved = len(report.Unresolved)
	sum.Rounds = report.Rounds
	sum.StopReason = report.Reason

	p.persist(ctx, key, merged)

	if report.Reason == retry.StopCancelled {
		return merged, sum, fmt.Errorf("retry rounds: %w", report.Err)
	}
	return merged, sum, nil
}

// LoadCachedMetadata returns the cached metadata for the query without any
// network access.
func (p *Processor) LoadCachedMetadata(ctx context.Context) (*mail.Collection, error) {
	return p.loadMetadata(ctx, cache.KeyFor(cache.PrefixMetadata, p.config.Query))
}

// RescopeCached returns cached metadata narrowed to the query. When the
// query has no metadata cache of its own, the unfiltered cache is filtered
// by the ids the query currently lists. Only the listing touches the network.
func (p *Processor) RescopeCached(ctx context.Context) (*mail.Collection, error) {
	coll, err := p.LoadCachedMetadata(ctx)
	if err == nil || p.config.Query == "" || !errors.Is(err, ErrNoCachedData) {
		return coll, err
	}

	base, err := p.loadMetadata(ctx, cache.KeyFor(cache.PrefixMetadata, ""))
	if err != nil {
		return nil, err
	}

	ids, err := p.resolver.ResolveIDs(ctx, p.config.User, p.config.Query)
	if err != nil {
		return nil, err
	}

	scoped := filter.Filter(base, ids)
	p.logger.Info().
		Int("cached", base.Len()).
		Int("matching", scoped.Len()).
		Msg("Rescoped unfiltered metadata cache")
	return scoped, nil
}

func (p *Processor) loadMetadata(ctx context.Context, key cache.Key) (*mail.Collection, error) {
	coll := mail.NewCollection()
	if err := p.store.Read(ctx, key, coll); err != nil {
		if cache.IsMiss(err) {
			return nil, fmt.Errorf("%w (%s): %w", ErrNoCachedData, key, err)
		}
		return nil, err
	}
	p.logger.Info().Int("messages", coll.Len()).Msg("Loading message metadata from cache")
	return coll, nil
}

// persist writes v under key. Failures are logged; the in-memory result
// stays valid for the caller.
func (p *Processor) persist(ctx context.Context, key cache.Key, v any) {
	if err := p.store.Write(context.WithoutCancel(ctx), key, v); err != nil {
		p.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to write cache")
	}
}

func missing(ids []string, have *mail.Collection) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !have.Has(id) {
			out = append(out, id)
		}
	}
	return out
}
