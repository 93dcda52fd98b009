package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDoSucceedsAfterRetryable(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, sleep: noSleep}

	calls := 0
	raw, attempts, err := policy.Do(context.Background(), func(ctx context.Context, attempt int) Outcome {
		calls++
		if calls < 3 {
			return Retryable(&TransportError{Err: errors.New("connection reset")}, 0)
		}
		return Success("the answer")
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if raw != "the answer" {
		t.Errorf("raw = %q, want %q", raw, "the answer")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoFatalStopsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second, sleep: noSleep}

	boom := errors.New("invalid request")
	calls := 0
	_, attempts, err := policy.Do(context.Background(), func(ctx context.Context, attempt int) Outcome {
		calls++
		return Fatal(boom)
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 each", calls, attempts)
	}
	if errors.Is(err, ErrReasoningUnavailable) {
		t.Error("fatal error must not be tagged as unavailable")
	}
}

func TestDoExhaustionWrapsUnavailable(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, sleep: noSleep}

	last := errors.New("still overloaded")
	_, attempts, err := policy.Do(context.Background(), func(ctx context.Context, attempt int) Outcome {
		return Retryable(last, 0)
	})
	if !errors.Is(err, ErrReasoningUnavailable) {
		t.Errorf("err = %v, want ErrReasoningUnavailable", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("exhaustion should keep the last underlying error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoRespectsContextDuringSleep(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := policy.Do(ctx, func(ctx context.Context, attempt int) Outcome {
		return Retryable(errors.New("try again"), 0)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDelayBounds(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Delay(attempt, 0)
		if d <= 0 || d > policy.MaxDelay {
			t.Errorf("Delay(%d) = %v, want (0, %v]", attempt, d, policy.MaxDelay)
		}
	}
}

func TestDelayHonorsRetryAfter(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	// a server-requested delay longer than the computed backoff wins
	if d := policy.Delay(1, time.Minute); d != time.Minute {
		t.Errorf("Delay(1, 1m) = %v, want 1m", d)
	}
	// a shorter one does not shrink the backoff below the jittered floor
	if d := policy.Delay(1, time.Nanosecond); d < 500*time.Millisecond {
		t.Errorf("Delay(1, 1ns) = %v, below the jitter floor", d)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind outcomeKind
	}{
		{"nil is success", nil, outcomeSuccess},
		{"rate limit retries", &RateLimitedError{RetryAfter: time.Second}, outcomeRetryable},
		{"transport retries", &TransportError{Err: errors.New("eof")}, outcomeRetryable},
		{"anything else is fatal", errors.New("bad request"), outcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classify("raw", tt.err)
			if out.kind != tt.kind {
				t.Errorf("classify kind = %d, want %d", out.kind, tt.kind)
			}
		})
	}
}

func TestClassifyCarriesRetryAfter(t *testing.T) {
	out := classify("", &RateLimitedError{RetryAfter: 7 * time.Second})
	if out.retryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", out.retryAfter)
	}
}
