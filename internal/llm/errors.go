package llm

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

// APIError is a vendor error normalized to an HTTP status and optional
// Retry-After hint. Providers wrap their SDK errors into this type whenever
// the status is recoverable from the response.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// statusPattern recovers a status code from SDK errors that only expose it in
// the message text ("API returned unexpected status code: 429 ...").
var statusPattern = regexp.MustCompile(`status(?: code)?[:\s]+(\d{3})`)

// StatusOf extracts an HTTP status from an error chain. Returns 0, false for
// errors with no recoverable status (network failures, cancellations).
func StatusOf(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code, true
		}
	}
	return 0, false
}

// fatalStatuses are never retried.
var fatalStatuses = map[int]bool{400: true, 401: true, 403: true, 404: true, 422: true}

// IsRetryable reports whether an error warrants a retry: 429, any 5xx, or a
// network-level failure. The fatal 4xx set is attempted exactly once.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if status, ok := StatusOf(err); ok {
		if fatalStatuses[status] {
			return false
		}
		return status == 429 || status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Status-less errors from SDK wrappers: assume transient.
	return !errors.Is(err, errNotRetryable)
}

// errNotRetryable marks errors that must never be retried regardless of shape.
var errNotRetryable = errors.New("not retryable")

// RetryAfterOf returns the server-provided Retry-After delay, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
