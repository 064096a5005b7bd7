package filter

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/internal/testutil"
	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/pagination"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

func collectionOf(n int) *mail.Collection {
	c := mail.NewCollection()
	for _, id := range testutil.IDs(n) {
		c.Add(mail.MessageMetadata{ID: id, Labels: []string{}})
	}
	return c
}

func newTestResolver(client mail.Client) *Resolver {
	r := retry.New(retry.DefaultPolicy(), zerolog.Nop())
	r.Sleep = func(context.Context, time.Duration) error { return nil }
	return NewResolver(client, pagination.NewLister(pagination.DefaultConfig(), r, zerolog.Nop()), zerolog.Nop())
}

func TestFilter(t *testing.T) {
	coll := collectionOf(100)

	// every third record, 30 in total
	var keep []string
	for i, id := range coll.IDs() {
		if i%3 == 1 && len(keep) < 30 {
			keep = append(keep, id)
		}
	}

	tests := []struct {
		name    string
		ids     mail.IDSet
		wantIDs []string
	}{
		{"subset", mail.NewIDSet(keep...), keep},
		{"empty set", mail.NewIDSet(), []string{}},
		{"unknown ids only", mail.NewIDSet("nope"), []string{}},
		{"nil passes through", nil, coll.IDs()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(coll, tt.ids)
			ids := got.IDs()
			if ids == nil {
				ids = []string{}
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("Filter() = %d ids, want %d", len(ids), len(tt.wantIDs))
			}
		})
	}

	if len(keep) != 30 || Filter(coll, mail.NewIDSet(keep...)).Len() != 30 {
		t.Errorf("expected 30 records to survive")
	}
	if coll.Len() != 100 {
		t.Error("input collection must not be modified")
	}
}

func TestResolver_ResolveIDs(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Refs(500))
	client.Listings["label:work"] = testutil.Refs(30)

	r := newTestResolver(client)

	ids, err := r.ResolveIDs(context.Background(), "me", "")
	if err != nil || ids != nil {
		t.Errorf("empty query = %v, %v; want nil set", ids, err)
	}
	if len(client.ListQueries) != 0 {
		t.Error("empty query must not list")
	}

	ids, err = r.ResolveIDs(context.Background(), "me", "label:work")
	if err != nil {
		t.Fatalf("ResolveIDs() error = %v", err)
	}
	if len(ids) != 30 || !ids.Has("msg-29") || ids.Has("msg-30") {
		t.Errorf("ResolveIDs() = %d ids", len(ids))
	}

	ids, err = r.ResolveIDs(context.Background(), "me", "label:nothing")
	if err != nil {
		t.Fatalf("ResolveIDs() error = %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("no matches should give an empty, non-nil set: %#v", ids)
	}
}

func TestResolver_ListingFails(t *testing.T) {
	client := testutil.NewFakeClient(nil)
	client.ListFunc = func(string, string) (mail.ListPage, error) {
		return mail.ListPage{}, &mail.APIError{Status: 400, Reason: "invalidArgument", Message: "bad query"}
	}

	_, err := newTestResolver(client).ResolveIDs(context.Background(), "me", "has:???")
	if !errors.Is(err, pagination.ErrListingFailed) {
		t.Errorf("error = %v, want ErrListingFailed", err)
	}
}
