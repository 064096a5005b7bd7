// Package filter narrows metadata collections to the messages matching a
// Gmail search query.
package filter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/pagination"
)

// Resolver turns a query into the set of matching message ids.
type Resolver struct {
	client mail.Client
	lister *pagination.Lister
	logger zerolog.Logger
}

// NewResolver creates a resolver listing through lister.
func NewResolver(client mail.Client, lister *pagination.Lister, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		lister: lister,
		logger: logger.With().Str("component", "query-filter").Logger(),
	}
}

// ResolveIDs lists the ids matching query. An empty query returns a nil set,
// meaning no filter applies.
func (r *Resolver) ResolveIDs(ctx context.Context, user, query string) (mail.IDSet, error) {
	if query == "" {
		return nil, nil
	}

	refs, err := r.lister.ListQuery(ctx, r.client, user, query)
	if err != nil {
		return nil, fmt.Errorf("resolve query %q: %w", query, err)
	}

	ids := mail.NewIDSet(mail.RefIDs(refs)...)
	r.logger.Info().
		Str("query", query).
		Int("matches", len(ids)).
		Msg("Query resolved")
	return ids, nil
}

// Filter returns the records of coll whose id is in ids, in collection
// order. A nil ids returns coll unchanged.
func Filter(coll *mail.Collection, ids mail.IDSet) *mail.Collection {
	if ids == nil {
		return coll
	}
	out := mail.NewCollection()
	for _, m := range coll.Items() {
		if ids.Has(m.ID) {
			out.Add(m)
		}
	}
	return out
}
