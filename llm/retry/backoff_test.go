package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelayGrowsExponentially(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	for attempt := 1; attempt <= 5; attempt++ {
		d := NextDelay(attempt, base, max)
		lower := base * time.Duration(1<<(attempt-1))
		upper := lower + time.Second

		assert.GreaterOrEqual(t, d, lower, "attempt %d", attempt)
		assert.LessOrEqual(t, d, upper, "attempt %d", attempt)
	}
}

func TestNextDelayIsCapped(t *testing.T) {
	d := NextDelay(10, 1*time.Second, 60*time.Second)
	assert.Equal(t, 60*time.Second, d)
}

func TestNextDelayClampsAttempt(t *testing.T) {
	d := NextDelay(0, 1*time.Second, 60*time.Second)
	assert.GreaterOrEqual(t, d, 1*time.Second)
	assert.LessOrEqual(t, d, 2*time.Second)
}

func TestDelayHonorsHint(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second}

	// A hint far above any computed backoff wins.
	d := p.Delay(1, 4*time.Second)
	assert.Equal(t, 4*time.Second, d)

	// A zero hint leaves the computed backoff in place.
	d = p.Delay(1, 0)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 5*time.Second)

	// Hints never push the wait past the policy ceiling.
	d = p.Delay(1, 2*time.Minute)
	assert.Equal(t, 5*time.Second, d)
}

func TestWaitReturnsAfterDelay(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitZeroDelayIsImmediate(t *testing.T) {
	require.NoError(t, Wait(context.Background(), 0))
}

func TestNormalizedFillsDefaults(t *testing.T) {
	p := Policy{MaxRetries: -1}.normalized()
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, 1*time.Second, p.BaseDelay)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
}
