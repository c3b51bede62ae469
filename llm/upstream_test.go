package llm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/tcmflow/llm"
	"github.com/BaSui01/tcmflow/llm/retry"
	"github.com/BaSui01/tcmflow/testutil"
)

// End-to-end checks with a scripted HTTP upstream: real client, real
// invoker, canned responses.

func newUpstreamInvoker(t *testing.T, server *testutil.CompletionServer) *llm.Invoker {
	t.Helper()
	client := llm.NewClient(llm.Options{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	return llm.NewInvoker(client, retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, nil, zaptest.NewLogger(t))
}

func TestInvokeRecoversFromRateLimiting(t *testing.T) {
	server := testutil.NewCompletionServer(
		testutil.Step{Status: 429, RetryAfter: "1"},
		testutil.Step{Status: 429, RetryAfter: "1"},
		testutil.Step{Content: "recovered"},
	)
	defer server.Close()

	inv := newUpstreamInvoker(t, server)
	completion, err := inv.Invoke(testutil.TestContext(t), "analyzer", []llm.Message{
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", completion.Content)
	assert.Equal(t, 3, server.Calls())
}

func TestInvokeStopsOnAuthFailure(t *testing.T) {
	server := testutil.NewCompletionServer(testutil.Step{Status: 401})
	defer server.Close()

	inv := newUpstreamInvoker(t, server)
	_, err := inv.Invoke(testutil.TestContext(t), "analyzer", []llm.Message{
		{Role: "user", Content: "hello"},
	})
	require.Error(t, err)
	assert.Equal(t, llm.ErrValidation, llm.TypeOf(err))
	assert.Equal(t, 1, server.Calls())
}

func TestInvokeExhaustsRetriesOnServerErrors(t *testing.T) {
	server := testutil.NewCompletionServer(testutil.Step{Status: 500})
	defer server.Close()

	inv := newUpstreamInvoker(t, server)
	_, err := inv.Invoke(testutil.TestContext(t), "analyzer", []llm.Message{
		{Role: "user", Content: "hello"},
	})
	require.Error(t, err)
	assert.Equal(t, llm.ErrModelError, llm.TypeOf(err))
	assert.Equal(t, 3, server.Calls())
}

func TestInvokeCancelledContext(t *testing.T) {
	server := testutil.NewCompletionServer(testutil.Step{Content: "unused"})
	defer server.Close()

	inv := newUpstreamInvoker(t, server)
	_, err := inv.Invoke(testutil.CancelledContext(), "analyzer", []llm.Message{
		{Role: "user", Content: "hello"},
	})
	require.Error(t, err)
}
