// Package retry implements the exponential backoff policy used for
// upstream model calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines how failed model calls are retried.
type Policy struct {
	MaxRetries int           // total attempts, including the first (1 disables retries)
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // upper bound on any computed delay
}

// DefaultPolicy returns the policy used for most model API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// normalized returns a copy of p with invalid fields replaced by defaults.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// NextDelay computes the backoff delay before retry number attempt
// (1-based): base * 2^(attempt-1) plus up to one second of jitter,
// capped at max. The jitter spreads out clients that fail together.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	delay += rand.Float64() * float64(time.Second)
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// Delay computes the wait before retry number attempt under this policy.
// hint is a server-provided minimum (e.g. a Retry-After header); the
// actual wait is never shorter than the hint, but never exceeds
// MaxDelay either.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	p = p.normalized()
	delay := NextDelay(attempt, p.BaseDelay, p.MaxDelay)
	if hint > delay {
		delay = hint
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Wait sleeps for the given delay, returning early with an error if
// ctx is cancelled.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
