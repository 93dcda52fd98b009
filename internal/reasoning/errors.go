// Package reasoning wraps calls to the external reasoning engine: prompt
// construction, response parsing, retry/backoff and rate limiting.
package reasoning

import (
	"errors"
	"fmt"
	"time"
)

// ErrReasoningUnavailable is surfaced when the retry budget is exhausted.
// Callers see this sentinel instead of the transport's own error taxonomy.
var ErrReasoningUnavailable = errors.New("reasoning engine unavailable")

// TransportError is a network or API failure. Retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("reasoning transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError reports an engine-side rate limit. Retryable; the backoff
// honors RetryAfter when the engine provided one.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ParseError reports malformed or partial structured output. Distinct from
// transport failures: it is retried once with a stricter re-prompt, then
// surfaced as fatal for the call.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing reasoning response: %s", e.Reason)
}
