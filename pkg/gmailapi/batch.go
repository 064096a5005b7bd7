package gmailapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// ErrMalformedBatch is returned when a batch response cannot be parsed as
// multipart/mixed.
var ErrMalformedBatch = errors.New("malformed batch response")

// BatchGet fetches metadata for ids in one batch call. A non-2xx status on
// the batch itself fails the whole call; per-message failures are reported
// in the matching ItemResult. Ids the server did not answer are absent from
// the result.
func (c *Client) BatchGet(ctx context.Context, user string, ids []string, headers []string) ([]mail.ItemResult, error) {
	if len(ids) == 0 {
		return []mail.ItemResult{}, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d ids (max %d)", ErrBatchTooLarge, len(ids), MaxBatchSize)
	}

	if err := c.config.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := encodeBatch(user, ids, headers)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+batchPath, body)
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("batch get: %w", toAPIError(err))
	}

	results, err := c.decodeBatch(resp)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}

	c.logger.Debug().
		Int("requested", len(ids)).
		Int("answered", len(results)).
		Msg("Batch call complete")

	return results, nil
}

// encodeBatch builds the multipart/mixed body. Each part is a raw HTTP
// request line addressed relative to the API root; its Content-ID is the
// message id.
func encodeBatch(user string, ids, headers []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, id := range ids {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-ID", "<"+id+">")

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := fmt.Fprintf(part, "GET %s HTTP/1.1\r\n\r\n", getPath(user, id, headers)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, "multipart/mixed; boundary=" + w.Boundary(), nil
}

func getPath(user, id string, headers []string) string {
	q := url.Values{}
	q.Set("format", "metadata")
	for _, h := range headers {
		q.Add("metadataHeaders", h)
	}
	q.Set("fields", getFields)
	return "/gmail/v1/users/" + url.PathEscape(user) + "/messages/" + url.PathEscape(id) + "?" + q.Encode()
}

func (c *Client) decodeBatch(resp *http.Response) ([]mail.ItemResult, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil, fmt.Errorf("%w: content type %q", ErrMalformedBatch, mediaType)
	}

	var results []mail.ItemResult
	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
		}

		id := responseID(part.Header.Get("Content-ID"))
		if id == "" {
			c.logger.Debug().Msg("Skipping batch part without Content-ID")
			continue
		}

		inner, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			// left unanswered so the caller retries it
			c.logger.Debug().Err(err).Str("id", id).Msg("Skipping unreadable batch part")
			continue
		}
		results = append(results, decodePart(id, inner))
	}

	return results, nil
}

func decodePart(id string, resp *http.Response) mail.ItemResult {
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return mail.ItemResult{ID: id, Err: toAPIError(err)}
	}

	var msg gmail.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return mail.ItemResult{ID: id, Err: fmt.Errorf("decode message %s: %w", id, err)}
	}

	return mail.ItemResult{ID: id, Payload: toPayload(id, &msg)}
}

func toPayload(id string, msg *gmail.Message) *mail.Payload {
	p := &mail.Payload{ID: msg.Id, LabelIDs: msg.LabelIds}
	if p.ID == "" {
		p.ID = id
	}
	if msg.Payload != nil {
		p.Headers = make([]mail.Header, 0, len(msg.Payload.Headers))
		for _, h := range msg.Payload.Headers {
			if h == nil {
				continue
			}
			p.Headers = append(p.Headers, mail.Header{Name: h.Name, Value: h.Value})
		}
	}
	return p
}

// responseID extracts the message id from a response Content-ID such as
// "<response-18c2f0a1b2c3d4e5>".
func responseID(contentID string) string {
	id := strings.TrimSpace(contentID)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimPrefix(id, "response-")
}
