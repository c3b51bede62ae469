package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ErrorType classifies an upstream model API failure.
type ErrorType string

const (
	ErrNetwork      ErrorType = "NETWORK"
	ErrRateLimit    ErrorType = "RATE_LIMIT"
	ErrTimeout      ErrorType = "TIMEOUT"
	ErrInvalidInput ErrorType = "INVALID_INPUT"
	ErrModelError   ErrorType = "MODEL_ERROR"
	ErrValidation   ErrorType = "VALIDATION"
	ErrUnknown      ErrorType = "UNKNOWN"
)

// APIError is the single error type surfaced by model calls. It
// carries the classification, an optional HTTP status, a retry-after
// hint, and the original fault for diagnostics.
type APIError struct {
	Type       ErrorType     `json:"type"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Retryable  bool          `json:"retryable"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// NewAPIError creates a new APIError with the given type and message.
func NewAPIError(t ErrorType, message string) *APIError {
	return &APIError{Type: t, Message: message}
}

// WithCause adds a cause to the error.
func (e *APIError) WithCause(cause error) *APIError {
	e.Cause = cause
	return e
}

// WithStatusCode sets the upstream HTTP status.
func (e *APIError) WithStatusCode(status int) *APIError {
	e.StatusCode = status
	return e
}

// WithRetryAfter sets the retry-after hint and marks the error
// retryable.
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	e.RetryAfter = d
	e.Retryable = d > 0
	return e
}

// IsRetryable reports whether the error is a retryable APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// TypeOf extracts the error type from an error, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrUnknown
}

// Classify maps a transport-level failure to an APIError. APIErrors
// pass through unchanged; HTTP-status classification happens in
// classifyStatus since the transport already has the response.
func Classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewAPIError(ErrTimeout, "request deadline exceeded").
			WithRetryAfter(5 * time.Second).WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewAPIError(ErrTimeout, "network timeout").
				WithRetryAfter(10 * time.Second).WithCause(err)
		}
		return NewAPIError(ErrNetwork, "network error").
			WithRetryAfter(5 * time.Second).WithCause(err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewAPIError(ErrNetwork, "network error").
			WithRetryAfter(5 * time.Second).WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewAPIError(ErrValidation, "malformed response body").
			WithRetryAfter(2 * time.Second).WithCause(err)
	}

	return NewAPIError(ErrUnknown, "unexpected error").
		WithRetryAfter(5 * time.Second).WithCause(err)
}

// classifyStatus maps a non-2xx HTTP response to an APIError.
// retryAfter is the raw Retry-After header, empty when absent.
func classifyStatus(status int, retryAfter string, body string) *APIError {
	switch {
	case status == 400:
		return NewAPIError(ErrInvalidInput, "invalid request").WithStatusCode(status)
	case status == 401:
		return NewAPIError(ErrValidation, "invalid API key").WithStatusCode(status)
	case status == 403:
		return NewAPIError(ErrValidation, "access denied").WithStatusCode(status)
	case status == 404:
		return NewAPIError(ErrInvalidInput, "resource not found").WithStatusCode(status)
	case status == 429:
		return NewAPIError(ErrRateLimit, "rate limit exceeded").
			WithStatusCode(status).
			WithRetryAfter(parseRetryAfter(retryAfter))
	case status >= 500:
		return NewAPIError(ErrModelError, fmt.Sprintf("upstream server error (HTTP %d)", status)).
			WithStatusCode(status).
			WithRetryAfter(30 * time.Second)
	default:
		return NewAPIError(ErrUnknown, fmt.Sprintf("unexpected status %d: %s", status, body)).
			WithStatusCode(status).
			WithRetryAfter(5 * time.Second)
	}
}

// parseRetryAfter parses a Retry-After header given in seconds.
// Missing or malformed values fall back to 5s rather than failing.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 5 * time.Second
	}
	return time.Duration(secs) * time.Second
}
