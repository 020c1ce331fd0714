package provider

import (
	"fmt"
	"time"
)

// RateLimitError is returned when the upstream API rejects a call with 429.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Endpoint, e.RetryAfter)
}

// AuthError is returned when the upstream API rejects the access token.
type AuthError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed on %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// APIError is returned for unexpected upstream HTTP responses.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error on %s: status %d", e.Endpoint, e.StatusCode)
}

// TimeoutError is returned when an upstream call exceeds its deadline.
type TimeoutError struct {
	Endpoint string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out", e.Endpoint)
}

// ConnectionError is returned when the upstream API is unreachable.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransformError is returned when an upstream response cannot be parsed
// or normalized into our data model.
type TransformError struct {
	Endpoint string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("failed to transform response from %s: %v", e.Endpoint, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
