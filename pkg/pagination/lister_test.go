package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

func newTestLister(sleeps *[]time.Duration) *Lister {
	r := retry.New(retry.DefaultPolicy(), zerolog.Nop())
	r.Rand = func() float64 { return 0 }
	r.Sleep = func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return NewLister(DefaultConfig(), r, zerolog.Nop())
}

// pagedFetcher serves pages keyed by cursor.
func pagedFetcher(pages map[string]mail.ListPage, calls *[]string) PageFetcher {
	return func(_ context.Context, cursor string) (mail.ListPage, error) {
		*calls = append(*calls, cursor)
		page, ok := pages[cursor]
		if !ok {
			return mail.ListPage{}, fmt.Errorf("unknown cursor %q", cursor)
		}
		return page, nil
	}
}

func refs(prefix string, n int) []mail.MessageRef {
	out := make([]mail.MessageRef, n)
	for i := range out {
		out[i] = mail.MessageRef{ID: fmt.Sprintf("%s%d", prefix, i), ThreadID: "t"}
	}
	return out
}

func TestLister_EmptyFirstPage(t *testing.T) {
	var calls []string
	l := newTestLister(nil)

	got, err := l.ListAll(context.Background(), pagedFetcher(map[string]mail.ListPage{
		"": {},
	}, &calls))
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListAll() = %#v, want empty non-nil slice", got)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %d, want 1", len(calls))
	}
}

func TestLister_FollowsCursors(t *testing.T) {
	var calls []string
	l := newTestLister(nil)

	got, err := l.ListAll(context.Background(), pagedFetcher(map[string]mail.ListPage{
		"":   {Refs: refs("a", 100), NextCursor: "p2", Estimate: 230},
		"p2": {Refs: refs("b", 100), NextCursor: "p3"},
		"p3": {Refs: refs("c", 30)},
	}, &calls))
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(got) != 230 {
		t.Errorf("len = %d, want 230", len(got))
	}
	if got[0].ID != "a0" || got[100].ID != "b0" || got[229].ID != "c29" {
		t.Errorf("page order not preserved: %s %s %s", got[0].ID, got[100].ID, got[229].ID)
	}
	want := []string{"", "p2", "p3"}
	for i, c := range want {
		if calls[i] != c {
			t.Errorf("call %d cursor = %q, want %q", i, calls[i], c)
		}
	}
}

func TestLister_RetriesTransientPage(t *testing.T) {
	var sleeps []time.Duration
	l := newTestLister(&sleeps)

	attempts := 0
	fetch := func(_ context.Context, cursor string) (mail.ListPage, error) {
		if cursor == "p2" {
			attempts++
			if attempts <= 2 {
				return mail.ListPage{}, &mail.APIError{Status: 429, Message: "slow down"}
			}
			return mail.ListPage{Refs: refs("b", 5)}, nil
		}
		return mail.ListPage{Refs: refs("a", 5), NextCursor: "p2"}, nil
	}

	got, err := l.ListAll(context.Background(), fetch)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", sleeps)
	}
}

func TestLister_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantIs    error
	}{
		{
			name:      "permanent error on second page",
			err:       &mail.APIError{Status: 404, Reason: "notFound"},
			wantCalls: 2,
		},
		{
			name:      "exhausted retries",
			err:       &mail.APIError{Status: 503},
			wantCalls: 1 + 6,
			wantIs:    retry.ErrRetryExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLister(nil)
			calls := 0
			fetch := func(_ context.Context, cursor string) (mail.ListPage, error) {
				calls++
				if cursor == "" {
					return mail.ListPage{Refs: refs("a", 3), NextCursor: "next"}, nil
				}
				return mail.ListPage{}, tt.err
			}

			got, err := l.ListAll(context.Background(), fetch)
			if !errors.Is(err, ErrListingFailed) {
				t.Fatalf("error = %v, want ErrListingFailed", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			var apiErr *mail.APIError
			if !errors.As(err, &apiErr) {
				t.Errorf("cause should be reachable via errors.As: %v", err)
			}
			if got != nil {
				t.Errorf("partial result returned: %d refs", len(got))
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestLister_Cancelled(t *testing.T) {
	l := newTestLister(nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fetch := func(_ context.Context, _ string) (mail.ListPage, error) {
		calls++
		cancel()
		return mail.ListPage{Refs: refs("a", 1), NextCursor: "more"}, nil
	}

	_, err := l.ListAll(ctx, fetch)
	if !errors.Is(err, ErrListingFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want ErrListingFailed wrapping context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

type listClient struct {
	gotUser, gotQuery string
}

func (c *listClient) List(_ context.Context, user, query, _ string) (mail.ListPage, error) {
	c.gotUser, c.gotQuery = user, query
	return mail.ListPage{Refs: refs("q", 2)}, nil
}

func (c *listClient) BatchGet(context.Context, string, []string, []string) ([]mail.ItemResult, error) {
	return nil, errors.New("not used")
}

func TestLister_ListQuery(t *testing.T) {
	c := &listClient{}
	got, err := newTestLister(nil).ListQuery(context.Background(), c, "me", "from:bob")
	if err != nil {
		t.Fatalf("ListQuery() error = %v", err)
	}
	if len(got) != 2 || c.gotUser != "me" || c.gotQuery != "from:bob" {
		t.Errorf("ListQuery() = %v user=%q query=%q", got, c.gotUser, c.gotQuery)
	}
}
