package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassifyDeadlineExceeded(t *testing.T) {
	apiErr := Classify(context.DeadlineExceeded)
	assert.Equal(t, ErrTimeout, apiErr.Type)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, 5*time.Second, apiErr.RetryAfter)
}

func TestClassifyNetworkTimeout(t *testing.T) {
	apiErr := Classify(&fakeNetError{timeout: true})
	assert.Equal(t, ErrTimeout, apiErr.Type)
	assert.Equal(t, 10*time.Second, apiErr.RetryAfter)
}

func TestClassifyNetworkError(t *testing.T) {
	apiErr := Classify(&fakeNetError{})
	assert.Equal(t, ErrNetwork, apiErr.Type)
	assert.Equal(t, 5*time.Second, apiErr.RetryAfter)

	apiErr = Classify(&url.Error{Op: "Post", URL: "http://x", Err: errors.New("refused")})
	assert.Equal(t, ErrNetwork, apiErr.Type)
}

func TestClassifyMalformedJSON(t *testing.T) {
	var v map[string]any
	err := json.Unmarshal([]byte("{not json"), &v)
	require.Error(t, err)

	apiErr := Classify(err)
	assert.Equal(t, ErrValidation, apiErr.Type)
	assert.Equal(t, 2*time.Second, apiErr.RetryAfter)
}

func TestClassifyUnknown(t *testing.T) {
	apiErr := Classify(errors.New("something odd"))
	assert.Equal(t, ErrUnknown, apiErr.Type)
	assert.True(t, apiErr.Retryable)
}

func TestClassifyPassesThroughAPIError(t *testing.T) {
	orig := NewAPIError(ErrRateLimit, "limited").WithRetryAfter(20 * time.Second)
	assert.Same(t, orig, Classify(orig))
}

func TestClassifyStatusTable(t *testing.T) {
	tests := []struct {
		status     int
		wantType   ErrorType
		retryable  bool
		retryAfter time.Duration
	}{
		{400, ErrInvalidInput, false, 0},
		{401, ErrValidation, false, 0},
		{403, ErrValidation, false, 0},
		{404, ErrInvalidInput, false, 0},
		{429, ErrRateLimit, true, 5 * time.Second},
		{500, ErrModelError, true, 30 * time.Second},
		{503, ErrModelError, true, 30 * time.Second},
		{418, ErrUnknown, true, 5 * time.Second},
	}

	for _, tt := range tests {
		apiErr := classifyStatus(tt.status, "", "")
		assert.Equal(t, tt.wantType, apiErr.Type, "status %d", tt.status)
		assert.Equal(t, tt.retryable, apiErr.Retryable, "status %d", tt.status)
		assert.Equal(t, tt.retryAfter, apiErr.RetryAfter, "status %d", tt.status)
		assert.Equal(t, tt.status, apiErr.StatusCode)
	}
}

func TestClassifyStatusHonorsRetryAfterHeader(t *testing.T) {
	apiErr := classifyStatus(429, "20", "")
	assert.Equal(t, 20*time.Second, apiErr.RetryAfter)
}

func TestParseRetryAfterMalformed(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("soon"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("-3"))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
}

func TestAPIErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	apiErr := NewAPIError(ErrNetwork, "network error").WithCause(cause)

	assert.ErrorIs(t, apiErr, cause)
	assert.Contains(t, apiErr.Error(), "NETWORK")
	assert.Contains(t, apiErr.Error(), "root cause")
}

func TestIsRetryableAndTypeOf(t *testing.T) {
	retryable := NewAPIError(ErrModelError, "upstream").WithRetryAfter(30 * time.Second)
	assert.True(t, IsRetryable(retryable))
	assert.Equal(t, ErrModelError, TypeOf(retryable))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrUnknown, TypeOf(errors.New("plain")))
}
