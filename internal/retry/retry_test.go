package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// --- NextDelay tests ---

func TestNextDelay_Grows(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	if got := p.NextDelay(1); got != time.Second {
		t.Errorf("attempt 1 delay = %v, want 1s", got)
	}
	if got := p.NextDelay(2); got != 2*time.Second {
		t.Errorf("attempt 2 delay = %v, want 2s", got)
	}
	if got := p.NextDelay(3); got != 4*time.Second {
		t.Errorf("attempt 3 delay = %v, want 4s", got)
	}
}

func TestNextDelay_CappedAtMax(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10.0}
	if got := p.NextDelay(5); got != 3*time.Second {
		t.Errorf("delay = %v, want capped at 3s", got)
	}
}

// --- Do tests ---

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustionSurfacesLastError(t *testing.T) {
	lastErr := errors.New("attempt 3 failed")
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errors.New("earlier failure")
	})
	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, want last error surfaced", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// --- DoIf tests ---

func TestDoIf_NonRetryablePropagatesImmediately(t *testing.T) {
	fatal := errors.New("invalid request")
	calls := 0
	err := fastPolicy().DoIf(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return false })
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDoIf_PredicateSelectsRetries(t *testing.T) {
	transient := errors.New("timeout")
	calls := 0
	err := fastPolicy().DoIf(context.Background(), func() error {
		calls++
		return transient
	}, func(err error) bool { return errors.Is(err, transient) })
	if !errors.Is(err, transient) {
		t.Errorf("err = %v, want %v", err, transient)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoIf_ContextCancelAbortsBackoff(t *testing.T) {
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Hour, // would block forever without cancellation
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			calls++
			return errors.New("transient")
		})
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
