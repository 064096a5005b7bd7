package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// FakeClient is an in-memory mail.Client.
//
// Listings are served from Listings keyed by query, PageSize refs per page.
// Batched gets answer every id with Payload(id) unless BatchFunc is set.
type FakeClient struct {
	mu sync.Mutex

	Listings map[string][]mail.MessageRef
	PageSize int

	// ListFunc overrides the listing behaviour when set.
	ListFunc func(query, cursor string) (mail.ListPage, error)

	// BatchFunc overrides the batched get behaviour when set. call is the
	// 1-based index of the BatchGet invocation.
	BatchFunc func(call int, ids []string) ([]mail.ItemResult, error)

	// Tracking
	ListQueries []string
	BatchCalls  [][]string
}

// NewFakeClient creates a fake whose default (unfiltered) listing holds refs.
func NewFakeClient(refs []mail.MessageRef) *FakeClient {
	return &FakeClient{
		Listings: map[string][]mail.MessageRef{"": refs},
		PageSize: 100,
	}
}

// List implements mail.Client.
func (c *FakeClient) List(_ context.Context, _ string, query, cursor string) (mail.ListPage, error) {
	c.mu.Lock()
	c.ListQueries = append(c.ListQueries, query)
	listFunc := c.ListFunc
	all := c.Listings[query]
	size := c.PageSize
	c.mu.Unlock()

	if listFunc != nil {
		return listFunc(query, cursor)
	}
	if size <= 0 {
		size = 100
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return mail.ListPage{}, &mail.APIError{Status: 400, Reason: "invalidArgument", Message: "bad page token"}
		}
		offset = n
	}
	end := min(offset+size, len(all))

	page := mail.ListPage{
		Refs:     append([]mail.MessageRef(nil), all[offset:end]...),
		Estimate: len(all),
	}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// BatchGet implements mail.Client.
func (c *FakeClient) BatchGet(_ context.Context, _ string, ids []string, _ []string) ([]mail.ItemResult, error) {
	c.mu.Lock()
	c.BatchCalls = append(c.BatchCalls, append([]string(nil), ids...))
	call := len(c.BatchCalls)
	batchFunc := c.BatchFunc
	c.mu.Unlock()

	if batchFunc != nil {
		return batchFunc(call, ids)
	}
	return OKResults(ids), nil
}

// BatchSizes returns the id count of every BatchGet call so far.
func (c *FakeClient) BatchSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.BatchCalls))
	for i, ids := range c.BatchCalls {
		sizes[i] = len(ids)
	}
	return sizes
}

// Payload builds a deterministic payload for id.
func Payload(id string) *mail.Payload {
	return &mail.Payload{
		ID:       id,
		LabelIDs: []string{"INBOX"},
		Headers: []mail.Header{
			{Name: "From", Value: fmt.Sprintf("Sender %s <%s@example.com>", id, id)},
			{Name: "Date", Value: "Mon, 01 Jan 2024 10:00:00 +0000"},
			{Name: "Subject", Value: "Subject " + id},
		},
	}
}

// OKResults answers every id successfully.
func OKResults(ids []string) []mail.ItemResult {
	out := make([]mail.ItemResult, len(ids))
	for i, id := range ids {
		out[i] = mail.ItemResult{ID: id, Payload: Payload(id)}
	}
	return out
}

// ErrResults answers every id with err.
func ErrResults(ids []string, err error) []mail.ItemResult {
	out := make([]mail.ItemResult, len(ids))
	for i, id := range ids {
		out[i] = mail.ItemResult{ID: id, Err: err}
	}
	return out
}

// Refs returns n refs with ids msg-0 .. msg-(n-1).
func Refs(n int) []mail.MessageRef {
	out := make([]mail.MessageRef, n)
	for i := range out {
		out[i] = mail.MessageRef{ID: fmt.Sprintf("msg-%d", i), ThreadID: fmt.Sprintf("thread-%d", i)}
	}
	return out
}

// IDs returns the ids of Refs(n).
func IDs(n int) []string {
	return mail.RefIDs(Refs(n))
}

// Unavailable is a transient whole-call or per-item error.
func Unavailable() error {
	return &mail.APIError{Status: 503, Reason: "backendError", Message: "service unavailable"}
}

// Forbidden is a permanent per-item error.
func Forbidden() error {
	return &mail.APIError{Status: 403, Reason: "forbidden", Message: "forbidden"}
}
