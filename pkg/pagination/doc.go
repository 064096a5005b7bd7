// Package pagination walks cursor-paginated message listings to completion.
//
// Gmail returns message ids in pages linked by an opaque nextPageToken.
// Pages are fetched strictly in order; each fetch goes through the per-call
// retry wrapper so rate limiting and transient server errors are absorbed
// before the listing is declared failed.
//
// Example usage:
//
//	lister := pagination.NewLister(pagination.DefaultConfig(), retrier, logger)
//	refs, err := lister.ListQuery(ctx, gmailClient, "me", "label:work")
//	if errors.Is(err, pagination.ErrListingFailed) {
//		// no partial result is returned
//	}
//
// The lister:
//   - Starts with an empty cursor and follows NextCursor until it is empty
//   - Returns an empty, non-nil slice when the first page has no messages
//   - Logs progress every Config.ProgressEvery pages using the first page's estimate
//   - Checks for cancellation between pages
package pagination
