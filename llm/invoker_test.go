package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm/retry"
)

// scriptedCompleter returns the scripted errors in order, then
// succeeds. It records how many attempts were made.
type scriptedCompleter struct {
	failures []error
	calls    int
}

func (s *scriptedCompleter) Model() string { return "qwen/qwen3-coder" }

func (s *scriptedCompleter) Complete(_ context.Context, _ []Message) (*Completion, error) {
	s.calls++
	if s.calls <= len(s.failures) {
		return nil, s.failures[s.calls-1]
	}
	return &Completion{
		Content: "ok",
		Model:   "qwen/qwen3-coder",
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestInvokeRetriesRateLimitThenSucceeds(t *testing.T) {
	rateLimited := func() error {
		return NewAPIError(ErrRateLimit, "rate limit exceeded").
			WithStatusCode(429).
			WithRetryAfter(time.Millisecond)
	}
	transport := &scriptedCompleter{failures: []error{rateLimited(), rateLimited()}}

	inv := NewInvoker(transport, fastPolicy(), metrics.NewRegistry(), zaptest.NewLogger(t))
	got, err := inv.Invoke(context.Background(), "analyzer", []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Content)
	assert.Equal(t, 3, transport.calls)
}

func TestInvokeFailsFastOnNonRetryable(t *testing.T) {
	transport := &scriptedCompleter{failures: []error{
		NewAPIError(ErrValidation, "invalid API key").WithStatusCode(401),
	}}

	inv := NewInvoker(transport, fastPolicy(), metrics.NewRegistry(), zaptest.NewLogger(t))
	_, err := inv.Invoke(context.Background(), "analyzer", []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.Equal(t, ErrValidation, TypeOf(err))
	assert.Equal(t, 1, transport.calls, "non-retryable errors must not be retried")
}

func TestInvokeExhaustsRetries(t *testing.T) {
	upstream := func() error {
		return NewAPIError(ErrModelError, "upstream server error").
			WithStatusCode(500).
			WithRetryAfter(time.Millisecond)
	}
	transport := &scriptedCompleter{failures: []error{upstream(), upstream(), upstream(), upstream()}}

	inv := NewInvoker(transport, fastPolicy(), metrics.NewRegistry(), zaptest.NewLogger(t))
	_, err := inv.Invoke(context.Background(), "writer", []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.Equal(t, ErrModelError, TypeOf(err))
	assert.Equal(t, 3, transport.calls, "attempts must stop at the policy limit")
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestInvokeRecordsMetrics(t *testing.T) {
	transport := &scriptedCompleter{failures: []error{
		NewAPIError(ErrRateLimit, "rate limit exceeded").WithRetryAfter(time.Millisecond),
	}}
	registry := metrics.NewRegistry()

	inv := NewInvoker(transport, fastPolicy(), registry, zaptest.NewLogger(t))
	_, err := inv.Invoke(context.Background(), "analyzer", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	snap := registry.Snapshot()
	assert.Contains(t, snap, `llm_api_calls_total{agent=analyzer,model=qwen/qwen3-coder}`)
	assert.Contains(t, snap, `llm_api_errors_total{agent=analyzer,model=qwen/qwen3-coder,type=RATE_LIMIT}`)
	assert.Contains(t, snap, `llm_usage_total_tokens{agent=analyzer,model=qwen/qwen3-coder}`)
}

func TestInvokeCancelledDuringBackoff(t *testing.T) {
	transport := &scriptedCompleter{failures: []error{
		NewAPIError(ErrRateLimit, "rate limit exceeded").WithRetryAfter(10 * time.Second),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	inv := NewInvoker(transport, retry.Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		metrics.NewRegistry(), zaptest.NewLogger(t))

	start := time.Now()
	_, err := inv.Invoke(ctx, "analyzer", []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must interrupt the backoff sleep")
	assert.Equal(t, 1, transport.calls)
}

func TestInvokeClassifiesPlainErrors(t *testing.T) {
	transport := &scriptedCompleter{failures: []error{
		context.DeadlineExceeded, context.DeadlineExceeded,
	}}

	inv := NewInvoker(transport, fastPolicy(), metrics.NewRegistry(), zaptest.NewLogger(t))
	got, err := inv.Invoke(context.Background(), "analyzer", []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Content)
	assert.Equal(t, 3, transport.calls)
}
