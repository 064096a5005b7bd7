// Package gmailapi implements mail.Client on top of the Gmail REST API.
//
// Listing goes through the generated gmail/v1 client. Metadata reads use the
// Gmail batch endpoint directly: one multipart/mixed POST carries up to 100
// users.messages.get sub-requests, and every sub-response is mapped back to
// its message id through the Content-ID header.
package gmailapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/ratelimit"
)

const (
	// DefaultBaseURL is the Gmail API root.
	DefaultBaseURL = "https://gmail.googleapis.com/"

	// MaxBatchSize is the largest number of sub-requests Gmail accepts in one batch.
	MaxBatchSize = 100

	batchPath  = "batch/gmail/v1"
	listFields = "messages(id,threadId),nextPageToken,resultSizeEstimate"
	getFields  = "id,labelIds,payload/headers"
)

// ErrBatchTooLarge is returned when BatchGet is called with more ids than
// one batch may carry.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Config holds the adapter configuration.
type Config struct {
	// BaseURL is the API root with a trailing slash. Tests point it at a
	// local server.
	BaseURL string

	// Limiter paces every outgoing call. Nil means unlimited.
	Limiter ratelimit.Limiter

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Limiter:   ratelimit.Unlimited{},
		UserAgent: "gmail-analyzer",
	}
}

// Client is a mail.Client backed by the Gmail API.
type Client struct {
	config  Config
	http    *http.Client
	service *gmail.Service
	logger  zerolog.Logger
}

var _ mail.Client = (*Client)(nil)

// New creates a Gmail adapter. httpClient must already carry credentials,
// typically from an oauth2 token source.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger zerolog.Logger) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}

	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Limiter == nil {
		cfg.Limiter = def.Limiter
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	svc, err := gmail.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(cfg.BaseURL),
		option.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{
		config:  cfg,
		http:    httpClient,
		service: svc,
		logger:  logger.With().Str("component", "gmailapi").Logger(),
	}, nil
}

// List fetches one page of message references.
func (c *Client) List(ctx context.Context, user, query, cursor string) (mail.ListPage, error) {
	if err := c.config.Limiter.Wait(ctx); err != nil {
		return mail.ListPage{}, err
	}

	call := c.service.Users.Messages.List(user).Fields(listFields)
	if query != "" {
		call = call.Q(query)
	}
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	res, err := call.Context(ctx).Do()
	if err != nil {
		return mail.ListPage{}, fmt.Errorf("list messages: %w", toAPIError(err))
	}

	page := mail.ListPage{
		Refs:       make([]mail.MessageRef, 0, len(res.Messages)),
		NextCursor: res.NextPageToken,
		Estimate:   int(res.ResultSizeEstimate),
	}
	for _, m := range res.Messages {
		if m == nil {
			continue
		}
		page.Refs = append(page.Refs, mail.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}

	c.logger.Debug().
		Int("refs", len(page.Refs)).
		Bool("more", page.NextCursor != "").
		Msg("Listed page")

	return page, nil
}

// toAPIError converts a googleapi error into a *mail.APIError. Other errors
// are returned unchanged.
func toAPIError(err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}
	apiErr := &mail.APIError{Status: gErr.Code, Message: gErr.Message}
	if len(gErr.Errors) > 0 {
		apiErr.Reason = gErr.Errors[0].Reason
		if apiErr.Message == "" {
			apiErr.Message = gErr.Errors[0].Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(gErr.Code)
	}
	return apiErr
}
