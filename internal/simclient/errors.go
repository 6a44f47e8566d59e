package simclient

import (
	"errors"
	"fmt"
	"time"
)

// ClassRateLimited tags retry events that follow a 429 reply.
const ClassRateLimited = "rate_limited"

// ErrNoEndpoint is returned (wrapped in a NetworkError) when the client was
// built without an endpoint URL.
var ErrNoEndpoint = errors.New("simulation endpoint not configured")

// HTTPError represents a non-2xx response from the simulation service.
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent or invalid.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("simclient: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Class() string { return "http_error" }

// IsRateLimited returns true for 429 responses.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.IsRateLimited() || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// TimeoutError means the last attempt hit the per-request deadline.
type TimeoutError struct {
	Timeout time.Duration
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("simclient: request timed out after %s (attempt %d)", e.Timeout, e.Attempt)
}

func (e *TimeoutError) Class() string { return "timeout" }

// NetworkError covers connection failures and bodies that are not valid JSON.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("simclient: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Class() string { return "network_error" }

// ShapeError means a 2xx reply was valid JSON but not the expected
// structure. It is never retried.
type ShapeError struct {
	Reason string
	Err    error
}

func (e *ShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simclient: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "simclient: malformed response: " + e.Reason
}

func (e *ShapeError) Unwrap() error { return e.Err }

func (e *ShapeError) Class() string { return "response_shape" }
