// Package batch fetches message metadata through combined batched get calls
// and sorts each sub-request outcome into successes, retryable failures and
// dropped ids.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

const (
	// DefaultBatchSize is the sub-request count of one main-pass call.
	DefaultBatchSize = 100

	// DefaultRetryBatchSize is the sub-request count of one retry-round call.
	DefaultRetryBatchSize = 50

	// MaxBatchSize is the largest sub-request count one batch call may carry.
	MaxBatchSize = 100
)

// Result accumulates the outcomes of one or more batched passes.
type Result struct {
	Successes *mail.Collection
	Failed    *mail.FailedSet
	Dropped   []string
	Batches   int
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{
		Successes: mail.NewCollection(),
		Failed:    mail.NewFailedSet(),
	}
}

// Fetcher issues batched metadata gets for one user.
type Fetcher struct {
	client  mail.Client
	retrier *retry.Retrier
	user    string
	headers []string

	// OnBatch, if set, is called after every completed batch call.
	OnBatch func(done, total int)

	logger zerolog.Logger
}

// NewFetcher creates a fetcher. A nil headers slice requests mail.DefaultHeaders.
func NewFetcher(client mail.Client, retrier *retry.Retrier, user string, headers []string, logger zerolog.Logger) *Fetcher {
	if headers == nil {
		headers = mail.DefaultHeaders()
	}
	return &Fetcher{
		client:  client,
		retrier: retrier,
		user:    user,
		headers: headers,
		logger:  logger.With().Str("component", "batch-fetcher").Logger(),
	}
}

// Partition splits ids into consecutive groups of at most size.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		groups = append(groups, ids[start:end])
	}
	return groups
}

// Fetch runs one pass over ids in groups of batchSize. Per-item transient
// failures land in Result.Failed; permanent ones in Result.Dropped.
//
// A whole call that fails permanently, or still fails after the per-call
// retries, stops the pass. The partial Result is returned alongside the
// error, as it is on cancellation.
func (f *Fetcher) Fetch(ctx context.Context, ids []string, batchSize int) (*Result, error) {
	res := NewResult()
	groups := Partition(ids, batchSize)
	start := time.Now()

	f.logger.Info().
		Int("messages", len(ids)).
		Int("batches", len(groups)).
		Msg("Fetching metadata")

	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			f.logger.Warn().
				Int("batch", i+1).
				Int("fetched", res.Successes.Len()).
				Msg("Metadata fetch cancelled")
			return res, fmt.Errorf("batch %d of %d: %w", i+1, len(groups), err)
		}

		items, err := f.call(ctx, group)
		if err != nil {
			f.logger.Error().
				Err(err).
				Int("batch", i+1).
				Int("fetched", res.Successes.Len()).
				Msg("Batch call failed, stopping pass")
			return res, fmt.Errorf("batch %d of %d: %w", i+1, len(groups), err)
		}

		retryIDs := f.apply(res, group, items)
		for _, id := range retryIDs {
			res.Failed.Add(id)
		}
		res.Batches++

		if f.OnBatch != nil {
			f.OnBatch(i+1, len(groups))
		}
	}

	f.logger.Info().
		Int("fetched", res.Successes.Len()).
		Int("failed", res.Failed.Len()).
		Int("dropped", len(res.Dropped)).
		Dur("duration", time.Since(start)).
		Msg("Metadata pass complete")

	return res, nil
}

// RoundFunc returns a retry.RoundFunc that re-issues gets for the given ids
// in groups of batchSize, merging successes and drops into into.
//
// A whole call still failing transiently after per-call retries keeps its ids
// for the next round and counts them as deferred. A permanent whole-call
// failure stops the round; its ids and every unattempted id stay pending.
func (f *Fetcher) RoundFunc(batchSize int, into *Result) retry.RoundFunc {
	return func(ctx context.Context, ids []string) (retry.RoundOutcome, error) {
		var out retry.RoundOutcome
		groups := Partition(ids, batchSize)

		for i, group := range groups {
			if err := ctx.Err(); err != nil {
				out.Retry = append(out.Retry, flatten(groups[i:])...)
				return out, err
			}

			items, err := f.call(ctx, group)
			if err != nil {
				if retry.IsRetryable(err) && ctx.Err() == nil {
					f.logger.Warn().
						Err(err).
						Int("ids", len(group)).
						Msg("Retry batch failed, deferring to next round")
					out.Retry = append(out.Retry, group...)
					out.Deferred += len(group)
					continue
				}
				out.Retry = append(out.Retry, flatten(groups[i:])...)
				return out, err
			}

			out.Retry = append(out.Retry, f.apply(into, group, items)...)
			into.Batches++
		}
		return out, nil
	}
}

func (f *Fetcher) call(ctx context.Context, ids []string) ([]mail.ItemResult, error) {
	batchSize.Observe(float64(len(ids)))

	var items []mail.ItemResult
	err := f.retrier.Do(ctx, "batch_get", func(ctx context.Context) error {
		res, err := f.client.BatchGet(ctx, f.user, ids, f.headers)
		if err != nil {
			return err
		}
		items = res
		return nil
	})
	switch {
	case err == nil:
		batchCallsTotal.WithLabelValues("ok").Inc()
	case retry.IsRetryable(err):
		batchCallsTotal.WithLabelValues("transient").Inc()
	default:
		batchCallsTotal.WithLabelValues("permanent").Inc()
	}
	return items, err
}

// apply merges items into res and returns the ids to retry. Requested ids
// without any answer in items are retried.
func (f *Fetcher) apply(res *Result, requested []string, items []mail.ItemResult) []string {
	answered := make(map[string]struct{}, len(items))
	var retryIDs []string

	for _, item := range items {
		answered[item.ID] = struct{}{}
		switch {
		case item.Err == nil && item.Payload != nil:
			p := *item.Payload
			if p.ID == "" {
				p.ID = item.ID
			}
			res.Successes.Add(mail.ExtractMetadata(p))
			res.Failed.Remove(p.ID)
			batchItemsTotal.WithLabelValues("success").Inc()

		case item.Err != nil && retry.IsRetryable(item.Err):
			retryIDs = append(retryIDs, item.ID)
			batchItemsTotal.WithLabelValues("retry").Inc()
			f.logger.Debug().Err(item.Err).Str("id", item.ID).Msg("Message fetch failed, will retry")

		case item.Err != nil:
			res.Dropped = append(res.Dropped, item.ID)
			batchItemsTotal.WithLabelValues("dropped").Inc()
			f.logger.Warn().Err(item.Err).Str("id", item.ID).Msg("Dropping message after permanent error")

		default:
			delete(answered, item.ID)
		}
	}

	for _, id := range requested {
		if _, ok := answered[id]; !ok {
			retryIDs = append(retryIDs, id)
			batchItemsTotal.WithLabelValues("retry").Inc()
		}
	}
	return retryIDs
}

func flatten(groups [][]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
