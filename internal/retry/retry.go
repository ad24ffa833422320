// Package retry wraps fallible remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy controls how failed operations are retried with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns a Policy with sensible defaults:
// 3 attempts, 1s initial delay, 2x multiplier, 30s max delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed),
// capped at MaxDelay.
func (p Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. Every error is considered retryable. Returns nil on
// success or the last error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return p.DoIf(ctx, fn, func(error) bool { return true })
}

// DoIf runs fn up to MaxAttempts times, but only retries errors accepted by
// the retryable predicate. Errors the predicate rejects (validation,
// authentication) propagate immediately without a retry. The backoff sleep
// is cut short if ctx is cancelled, in which case the context error is
// returned.
func (p Policy) DoIf(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if attempt < p.MaxAttempts {
			if err := sleep(ctx, p.NextDelay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
