package batch

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/internal/testutil"
	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/retry"
)

func newTestRetrier(maxRetries int) *retry.Retrier {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	r := retry.New(p, zerolog.Nop())
	r.Sleep = func(context.Context, time.Duration) error { return nil }
	r.Rand = func() float64 { return 0 }
	return r
}

func newTestFetcher(client mail.Client, logger zerolog.Logger) *Fetcher {
	return NewFetcher(client, newTestRetrier(5), "me", nil, logger)
}

func countLevel(buf *bytes.Buffer, level string) int {
	return strings.Count(buf.String(), `"level":"`+level+`"`)
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want []int
	}{
		{"empty", 0, 100, nil},
		{"exact", 200, 100, []int{100, 100}},
		{"remainder", 250, 100, []int{100, 100, 50}},
		{"smaller than size", 7, 50, []int{7}},
		{"zero size uses default", 150, 0, []int{100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sizes []int
			for _, g := range Partition(testutil.IDs(tt.n), tt.size) {
				sizes = append(sizes, len(g))
			}
			if !reflect.DeepEqual(sizes, tt.want) {
				t.Errorf("Partition() sizes = %v, want %v", sizes, tt.want)
			}
		})
	}
}

// Scenario A: 250 refs in batches of 100.
func TestFetcher_Fetch_Batches(t *testing.T) {
	client := testutil.NewFakeClient(nil)
	f := newTestFetcher(client, zerolog.Nop())

	var progress [][2]int
	f.OnBatch = func(done, total int) { progress = append(progress, [2]int{done, total}) }

	ids := testutil.IDs(250)
	res, err := f.Fetch(context.Background(), ids, DefaultBatchSize)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := client.BatchSizes(); !reflect.DeepEqual(got, []int{100, 100, 50}) {
		t.Errorf("batch sizes = %v, want [100 100 50]", got)
	}
	if res.Batches != 3 {
		t.Errorf("Batches = %d, want 3", res.Batches)
	}
	if res.Successes.Len() != 250 {
		t.Errorf("Successes = %d, want 250", res.Successes.Len())
	}
	if !reflect.DeepEqual(res.Successes.IDs(), ids) {
		t.Error("successes should keep arrival order")
	}
	if res.Failed.Len() != 0 || len(res.Dropped) != 0 {
		t.Errorf("Failed = %d, Dropped = %d, want none", res.Failed.Len(), len(res.Dropped))
	}
	if len(progress) != 3 || progress[2] != [2]int{3, 3} {
		t.Errorf("progress = %v", progress)
	}
}

func TestFetcher_Fetch_ClassifiesItems(t *testing.T) {
	client := testutil.NewFakeClient(nil)
	client.BatchFunc = func(_ int, ids []string) ([]mail.ItemResult, error) {
		return []mail.ItemResult{
			{ID: ids[0], Payload: testutil.Payload(ids[0])},
			{ID: ids[1], Err: &mail.APIError{Status: 429, Reason: "rateLimitExceeded"}},
			{ID: ids[2], Err: &mail.APIError{Status: 403, Reason: retry.ReasonUserRateLimitExceeded}},
			{ID: ids[3], Err: &mail.APIError{Status: 404, Reason: "notFound"}},
			// ids[4] missing from the response
		}, nil
	}

	res, err := newTestFetcher(client, zerolog.Nop()).Fetch(context.Background(), testutil.IDs(5), 100)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !reflect.DeepEqual(res.Successes.IDs(), []string{"msg-0"}) {
		t.Errorf("Successes = %v", res.Successes.IDs())
	}
	if !reflect.DeepEqual(res.Failed.IDs(), []string{"msg-1", "msg-2", "msg-4"}) {
		t.Errorf("Failed = %v", res.Failed.IDs())
	}
	if !reflect.DeepEqual(res.Dropped, []string{"msg-3"}) {
		t.Errorf("Dropped = %v", res.Dropped)
	}

	m, _ := res.Successes.Get("msg-0")
	if mail.Value(m.Fields.Subject) != "Subject msg-0" {
		t.Errorf("metadata not extracted: %+v", m)
	}
}

// Scenario C: a permanently forbidden item is dropped with one warning.
func TestFetcher_Fetch_DropsForbidden(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	client := testutil.NewFakeClient(nil)
	client.BatchFunc = func(_ int, ids []string) ([]mail.ItemResult, error) {
		out := testutil.OKResults(ids)
		out[1] = mail.ItemResult{ID: ids[1], Err: testutil.Forbidden()}
		return out, nil
	}

	res, err := newTestFetcher(client, logger).Fetch(context.Background(), testutil.IDs(3), 100)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Successes.Has("msg-1") || res.Failed.Has("msg-1") {
		t.Error("forbidden id must be neither fetched nor queued for retry")
	}
	if !reflect.DeepEqual(res.Dropped, []string{"msg-1"}) {
		t.Errorf("Dropped = %v", res.Dropped)
	}
	if n := countLevel(&buf, "warn"); n != 1 {
		t.Errorf("warnings = %d, want 1\n%s", n, buf.String())
	}
}

func TestFetcher_Fetch_WholeCallFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantIs    error
	}{
		{"permanent", &mail.APIError{Status: 401, Reason: "authError"}, 2, nil},
		{"exhausted", testutil.Unavailable(), 1 + 6, retry.ErrRetryExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutil.NewFakeClient(nil)
			client.BatchFunc = func(call int, ids []string) ([]mail.ItemResult, error) {
				if call == 1 {
					return testutil.OKResults(ids), nil
				}
				return nil, tt.err
			}

			res, err := newTestFetcher(client, zerolog.Nop()).Fetch(context.Background(), testutil.IDs(250), 100)
			if err == nil {
				t.Fatal("Fetch() error = nil, want failure")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if res == nil || res.Successes.Len() != 100 {
				t.Fatalf("partial result should hold the first batch, got %+v", res)
			}
			if res.Batches != 1 {
				t.Errorf("Batches = %d, want 1", res.Batches)
			}
			if got := len(client.BatchCalls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetcher_Fetch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := testutil.NewFakeClient(nil)
	client.BatchFunc = func(_ int, ids []string) ([]mail.ItemResult, error) {
		cancel()
		return testutil.OKResults(ids), nil
	}

	res, err := newTestFetcher(client, zerolog.Nop()).Fetch(ctx, testutil.IDs(150), 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res.Successes.Len() != 100 || len(client.BatchCalls) != 1 {
		t.Errorf("fetched %d in %d calls, want 100 in 1", res.Successes.Len(), len(client.BatchCalls))
	}
}

func TestFetcher_RoundFunc(t *testing.T) {
	t.Run("splits into retry batches and merges", func(t *testing.T) {
		client := testutil.NewFakeClient(nil)
		client.BatchFunc = func(_ int, ids []string) ([]mail.ItemResult, error) {
			out := testutil.OKResults(ids)
			out[0] = mail.ItemResult{ID: ids[0], Err: testutil.Unavailable()}
			return out, nil
		}
		into := NewResult()
		round := newTestFetcher(client, zerolog.Nop()).RoundFunc(DefaultRetryBatchSize, into)

		out, err := round(context.Background(), testutil.IDs(120))
		if err != nil {
			t.Fatalf("round error = %v", err)
		}
		if got := client.BatchSizes(); !reflect.DeepEqual(got, []int{50, 50, 20}) {
			t.Errorf("batch sizes = %v, want [50 50 20]", got)
		}
		if !reflect.DeepEqual(out.Retry, []string{"msg-0", "msg-50", "msg-100"}) {
			t.Errorf("Retry = %v", out.Retry)
		}
		if out.Deferred != 0 {
			t.Errorf("Deferred = %d, want 0", out.Deferred)
		}
		if into.Successes.Len() != 117 {
			t.Errorf("Successes = %d, want 117", into.Successes.Len())
		}
	})

	t.Run("transient whole call is deferred", func(t *testing.T) {
		client := testutil.NewFakeClient(nil)
		client.BatchFunc = func(call int, ids []string) ([]mail.ItemResult, error) {
			if ids[0] == "msg-0" {
				return nil, testutil.Unavailable()
			}
			return testutil.OKResults(ids), nil
		}
		into := NewResult()
		f := NewFetcher(client, newTestRetrier(0), "me", nil, zerolog.Nop())

		out, err := f.RoundFunc(50, into)(context.Background(), testutil.IDs(80))
		if err != nil {
			t.Fatalf("round error = %v", err)
		}
		if len(out.Retry) != 50 || out.Deferred != 50 {
			t.Errorf("Retry = %d, Deferred = %d, want 50/50", len(out.Retry), out.Deferred)
		}
		if into.Successes.Len() != 30 {
			t.Errorf("Successes = %d, want 30", into.Successes.Len())
		}
	})

	t.Run("permanent whole call aborts", func(t *testing.T) {
		client := testutil.NewFakeClient(nil)
		client.BatchFunc = func(call int, ids []string) ([]mail.ItemResult, error) {
			if call == 2 {
				return nil, &mail.APIError{Status: 400, Reason: "invalidArgument"}
			}
			return testutil.OKResults(ids), nil
		}
		into := NewResult()

		out, err := newTestFetcher(client, zerolog.Nop()).RoundFunc(50, into)(context.Background(), testutil.IDs(120))
		var apiErr *mail.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 400 {
			t.Fatalf("error = %v, want status 400", err)
		}
		if len(out.Retry) != 70 {
			t.Errorf("Retry = %d, want the failed and unattempted 70", len(out.Retry))
		}
		if len(client.BatchCalls) != 2 {
			t.Errorf("calls = %d, want 2", len(client.BatchCalls))
		}
	})
}
