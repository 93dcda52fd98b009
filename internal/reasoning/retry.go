package reasoning

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// outcomeKind tags the result of a single attempt
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// Outcome is the explicit result of one attempt against the engine. The
// retry loop is a pure function over this type and never inspects the
// transport's own error representation.
type Outcome struct {
	kind       outcomeKind
	value      string
	err        error
	retryAfter time.Duration
}

// Success wraps a successful raw response
func Success(value string) Outcome {
	return Outcome{kind: outcomeSuccess, value: value}
}

// Retryable marks an attempt worth repeating. retryAfter overrides the
// computed backoff when the engine asked for a specific delay.
func Retryable(err error, retryAfter time.Duration) Outcome {
	return Outcome{kind: outcomeRetryable, err: err, retryAfter: retryAfter}
}

// Fatal marks an attempt that must not be repeated
func Fatal(err error) Outcome {
	return Outcome{kind: outcomeFatal, err: err}
}

// classify maps a transport error into an Outcome
func classify(raw string, err error) Outcome {
	if err == nil {
		return Success(raw)
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return Retryable(err, rl.RetryAfter)
	}
	var te *TransportError
	if errors.As(err, &te) {
		return Retryable(err, 0)
	}
	return Fatal(err)
}

// RetryPolicy bounds the retry loop: attempt count and exponential backoff
// with a capped delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the backoff before the given retry (attempt is 1-based and
// counts the attempt that just failed). Exponential with jitter, capped at
// MaxDelay; a positive retryAfter from the engine takes precedence when it
// is longer.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	backoff := p.BaseDelay << uint(attempt-1)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	// jitter in [0.5, 1.5) keeps a fleet of retries from synchronizing
	backoff = time.Duration(float64(backoff) * (0.5 + rand.Float64()))
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}

// Do runs fn up to MaxAttempts times, sleeping between retryable failures.
// Exhaustion surfaces ErrReasoningUnavailable wrapping the last error; fatal
// outcomes surface immediately. Returns the raw value and the number of
// attempts actually made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) Outcome) (string, int, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out := fn(ctx, attempt)
		switch out.kind {
		case outcomeSuccess:
			return out.value, attempt, nil
		case outcomeFatal:
			return "", attempt, out.err
		case outcomeRetryable:
			lastErr = out.err
			if attempt == p.MaxAttempts {
				break
			}
			if err := sleep(ctx, p.Delay(attempt, out.retryAfter)); err != nil {
				return "", attempt, err
			}
		}
	}
	return "", p.MaxAttempts, errors.Join(ErrReasoningUnavailable, lastErr)
}
