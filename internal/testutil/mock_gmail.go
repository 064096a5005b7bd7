// Package testutil provides test doubles for the Gmail API.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// BatchPath is the batch endpoint path served by MockGmail.
const BatchPath = "/batch/gmail/v1"

// MockResponse defines a canned HTTP response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockGmail is a configurable mock Gmail server for testing.
//
// It serves users.messages.list from a configured ref list and answers
// batched users.messages.get requests with one multipart part per
// sub-request.
type MockGmail struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	refs       map[string][]mail.MessageRef // by query
	pageSize   int
	itemErrors map[string]MockResponse
	omitted    map[string]bool
	batchFails []MockResponse

	// Tracking
	RequestCount int
	BatchCount   int
	LastBatchIDs []string
	LastQuery    string
	LastSubPath  string
}

// NewMockGmail creates a new mock Gmail server.
func NewMockGmail() *MockGmail {
	mock := &MockGmail{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		refs:       make(map[string][]mail.MessageRef),
		pageSize:   100,
		itemErrors: make(map[string]MockResponse),
		omitted:    make(map[string]bool),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == BatchPath && r.Method == http.MethodPost:
			mock.handleBatch(w, r)
		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/") && strings.HasSuffix(r.URL.Path, "/messages"):
			mock.handleList(w, r)
		default:
			writeError(w, MockResponse{StatusCode: http.StatusNotFound, Body: errorBody(404, "notFound", "not found")})
		}
	}))

	return mock
}

// URL returns the mock server base URL with a trailing slash.
func (m *MockGmail) URL() string {
	return m.server.URL + "/"
}

// Client returns an HTTP client for the server.
func (m *MockGmail) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockGmail) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGmail) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetMessages configures the listing for query. An empty query is the
// unfiltered mailbox.
func (m *MockGmail) SetMessages(query string, refs []mail.MessageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[query] = refs
}

// SetPageSize sets the number of refs per list page.
func (m *MockGmail) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetItemError makes every sub-request for id fail with resp.
func (m *MockGmail) SetItemError(id string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemErrors[id] = resp
}

// OmitItem leaves id out of batch responses.
func (m *MockGmail) OmitItem(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitted[id] = true
}

// FailNextBatches makes the next n batch calls fail as a whole with resp.
func (m *MockGmail) FailNextBatches(n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.batchFails = append(m.batchFails, resp)
	}
}

// GetBatchCount returns the number of batch calls received.
func (m *MockGmail) GetBatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BatchCount
}

func (m *MockGmail) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.mu.Lock()
	m.LastQuery = q.Get("q")
	all := m.refs[q.Get("q")]
	size := m.pageSize
	m.mu.Unlock()

	offset := 0
	if tok := q.Get("pageToken"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			writeError(w, MockResponse{StatusCode: 400, Body: errorBody(400, "invalidArgument", "Invalid pageToken")})
			return
		}
		offset = n
	}
	end := min(offset+size, len(all))

	type ref struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	page := struct {
		Messages           []ref  `json:"messages,omitempty"`
		NextPageToken      string `json:"nextPageToken,omitempty"`
		ResultSizeEstimate int    `json:"resultSizeEstimate"`
	}{ResultSizeEstimate: len(all)}
	for _, m := range all[offset:end] {
		page.Messages = append(page.Messages, ref{ID: m.ID, ThreadID: m.ThreadID})
	}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_ = json.NewEncoder(w).Encode(page)
}

func (m *MockGmail) handleBatch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.BatchCount++
	var fail *MockResponse
	if len(m.batchFails) > 0 {
		fail = &m.batchFails[0]
		m.batchFails = m.batchFails[1:]
	}
	m.mu.Unlock()

	if fail != nil {
		writeError(w, *fail)
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/mixed" {
		writeError(w, MockResponse{StatusCode: 400, Body: errorBody(400, "badRequest", "expected multipart/mixed")})
		return
	}

	var out bytes.Buffer
	mw := multipart.NewWriter(&out)
	var ids []string

	reader := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, MockResponse{StatusCode: 400, Body: errorBody(400, "badRequest", err.Error())})
			return
		}

		contentID := part.Header.Get("Content-ID")
		sub, err := http.ReadRequest(bufio.NewReader(part))
		if err != nil {
			writeError(w, MockResponse{StatusCode: 400, Body: errorBody(400, "badRequest", err.Error())})
			return
		}
		id := sub.URL.Path[strings.LastIndex(sub.URL.Path, "/")+1:]
		ids = append(ids, id)

		m.mu.Lock()
		m.LastSubPath = sub.URL.String()
		itemErr, failed := m.itemErrors[id]
		omit := m.omitted[id]
		m.mu.Unlock()

		if omit {
			continue
		}

		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-ID", "<response-"+strings.Trim(contentID, "<>")+">")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return
		}

		if failed {
			fmt.Fprintf(pw, "HTTP/1.1 %d %s\r\nContent-Type: application/json; charset=UTF-8\r\n\r\n%s",
				itemErr.StatusCode, http.StatusText(itemErr.StatusCode), itemErr.Body)
			continue
		}
		body := messageBody(id)
		fmt.Fprintf(pw, "HTTP/1.1 200 OK\r\nContent-Type: application/json; charset=UTF-8\r\nContent-Length: %d\r\n\r\n%s",
			len(body), body)
	}
	_ = mw.Close()

	m.mu.Lock()
	m.LastBatchIDs = ids
	m.mu.Unlock()

	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

func messageBody(id string) string {
	p := Payload(id)
	headers := make([]map[string]string, 0, len(p.Headers))
	for _, h := range p.Headers {
		headers = append(headers, map[string]string{"name": h.Name, "value": h.Value})
	}
	data, _ := json.Marshal(map[string]any{
		"id":       id,
		"labelIds": p.LabelIDs,
		"payload":  map[string]any{"headers": headers},
	})
	return string(data)
}

func writeError(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func errorBody(code int, reason, message string) string {
	return fmt.Sprintf(`{"error":{"code":%d,"message":%q,"errors":[{"reason":%q,"message":%q}]}}`,
		code, message, reason, message)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       errorBody(429, "rateLimitExceeded", "Rate Limit Exceeded"),
	}
}

// NewUserRateLimitResponse creates a 403 response with the per-user quota reason.
func NewUserRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       errorBody(403, "userRateLimitExceeded", "User Rate Limit Exceeded"),
	}
}

// NewForbiddenResponse creates a permanent 403 response.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       errorBody(403, "forbidden", "Forbidden"),
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       errorBody(404, "notFound", "Requested entity was not found."),
	}
}

// NewServiceUnavailableResponse creates a 503 response.
func NewServiceUnavailableResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       errorBody(503, "backendError", "The service is currently unavailable."),
	}
}
