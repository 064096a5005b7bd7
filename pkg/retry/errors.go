package retry

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// Common errors returned by the retry coordinator.
var (
	// ErrRetryExhausted is returned when all per-call retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a backoff sleep.
	ErrContextCancelled = errors.New("context cancelled")
)

// Class is the retry classification of an error.
type Class string

const (
	// ClassTransient errors are worth retrying.
	ClassTransient Class = "transient"

	// ClassPermanent errors are never retried.
	ClassPermanent Class = "permanent"
)

// Rate limit reason codes reported by Gmail alongside status 403.
const (
	ReasonRateLimitExceeded     = "rateLimitExceeded"
	ReasonUserRateLimitExceeded = "userRateLimitExceeded"
)

// Classify categorizes an error. An error is transient iff it carries status
// 429, 500 or 503, or status 403 with a rate limit reason. Everything else,
// including errors without a status, is permanent.
func Classify(err error) Class {
	status, reason, ok := statusOf(err)
	if !ok {
		return ClassPermanent
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return ClassTransient
	case http.StatusForbidden:
		if reason == ReasonRateLimitExceeded || reason == ReasonUserRateLimitExceeded {
			return ClassTransient
		}
	}
	return ClassPermanent
}

// IsRetryable reports whether Classify(err) is ClassTransient.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

func statusOf(err error) (int, string, bool) {
	var apiErr *mail.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Reason, true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		reason := ""
		if len(gErr.Errors) > 0 {
			reason = gErr.Errors[0].Reason
		}
		return gErr.Code, reason, true
	}
	return 0, "", false
}
