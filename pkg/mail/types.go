// Package mail defines the message model shared by the fetch pipeline and
// the narrow provider capability it consumes.
package mail

import (
	"context"
	"fmt"
)

// MessageRef is the minimal identifier pair for one message, as returned by listing.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Fields holds the extracted header values. A nil pointer means the header
// was absent from the response.
type Fields struct {
	From    *string `json:"from"`
	Date    *string `json:"date"`
	Subject *string `json:"subject"`
}

// MessageMetadata is the header and label data extracted for one message.
type MessageMetadata struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
	Fields Fields   `json:"fields"`
}

// Header is a single name/value message header.
type Header struct {
	Name  string
	Value string
}

// Payload is the raw per-item body of a batched get, before extraction.
type Payload struct {
	ID       string
	LabelIDs []string
	Headers  []Header
}

// ListPage is one page of a cursor-paginated listing.
type ListPage struct {
	Refs       []MessageRef
	NextCursor string
	Estimate   int
}

// ItemResult is the outcome of a single sub-request inside a batch call.
// Exactly one of Payload and Err is set.
type ItemResult struct {
	ID      string
	Payload *Payload
	Err     error
}

// Client is the narrow provider surface required by the pipeline.
type Client interface {
	// List returns one page of message references. An empty query lists
	// every message; an empty cursor requests the first page.
	List(ctx context.Context, user, query, cursor string) (ListPage, error)

	// BatchGet issues one combined remote call carrying one sub-request per
	// id and returns one ItemResult per id, in any order.
	BatchGet(ctx context.Context, user string, ids []string, headers []string) ([]ItemResult, error)
}

// DefaultHeaders are the metadata headers requested for every message.
func DefaultHeaders() []string {
	return []string{"From", "Date", "Subject"}
}

// APIError is a provider error carrying a numeric status and an optional
// structured reason code.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gmail api error (status %d, reason %s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("gmail api error (status %d): %s", e.Status, e.Message)
}

// IDSet is a set of message ids. A nil IDSet means "no query given" and is
// distinct from an empty, non-nil set.
type IDSet map[string]struct{}

// NewIDSet builds a non-nil set from ids.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// RefIDs returns the ids of refs, preserving order.
func RefIDs(refs []MessageRef) []string {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}
