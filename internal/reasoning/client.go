package reasoning

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/northhollow/keel/internal/config"
	"github.com/northhollow/keel/pkg/types"
)

// Client is the reasoning engine client. It renders context bundles into
// prompts, enforces the retry/backoff and rate-limit budget, parses
// responses into typed results and records every call to the audit sink.
type Client struct {
	transport Transport
	policy    RetryPolicy
	limiter   *RateLimiter
	audit     AuditSink
}

// NewClient wires a client from configuration
func NewClient(cfg config.ReasoningConfig, transport Transport, audit AuditSink) *Client {
	return &Client{
		transport: transport,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay.Std(),
			MaxDelay:    cfg.MaxDelay.Std(),
		},
		limiter: NewRateLimiter(cfg.RequestsPerMinute),
		audit:   audit,
	}
}

// Reason renders the bundle into the selected template, calls the engine and
// returns the typed result. Transport and rate-limit failures are retried
// with exponential backoff; a parse failure triggers one stricter re-prompt
// before the call fails. Exhaustion surfaces ErrReasoningUnavailable; the
// caller never sees the transport's own error taxonomy.
func (c *Client) Reason(ctx context.Context, bundle *types.ContextBundle, kind TemplateKind) (*StructuredResult, error) {
	prompt, err := Render(kind, bundle, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	entry := AuditEntry{
		ID:           uuid.New().String(),
		Template:     kind,
		ContextRunes: prompt.Size(),
	}

	raw, attempts, err := c.send(ctx, prompt)
	entry.Attempts = attempts
	if err != nil {
		entry.Latency = time.Since(start)
		entry.Outcome = outcomeLabel(err)
		c.record(ctx, entry)
		return nil, err
	}

	result, perr := Parse(kind, raw)
	if perr != nil {
		var parseErr *ParseError
		if !errors.As(perr, &parseErr) {
			entry.Latency = time.Since(start)
			entry.Outcome = "fatal"
			c.record(ctx, entry)
			return nil, perr
		}

		// one stricter re-prompt, then the parse failure stands
		strictPrompt, rerr := Render(kind, bundle, true)
		if rerr != nil {
			return nil, rerr
		}
		raw, attempts, err = c.send(ctx, strictPrompt)
		entry.Attempts += attempts
		if err == nil {
			result, perr = Parse(kind, raw)
		} else {
			perr = err
		}
		if perr != nil {
			entry.Latency = time.Since(start)
			entry.Outcome = outcomeLabel(perr)
			c.record(ctx, entry)
			return nil, perr
		}
	}

	entry.Latency = time.Since(start)
	entry.Outcome = "ok"
	c.record(ctx, entry)
	return result, nil
}

// send runs one prompt through the rate limiter and the retry loop
func (c *Client) send(ctx context.Context, prompt Prompt) (string, int, error) {
	return c.policy.Do(ctx, func(ctx context.Context, attempt int) Outcome {
		if err := c.limiter.Wait(ctx); err != nil {
			return Fatal(err)
		}
		raw, err := c.transport.Send(ctx, prompt)
		return classify(raw, err)
	})
}

func (c *Client) record(ctx context.Context, entry AuditEntry) {
	if c.audit != nil {
		c.audit.Record(ctx, entry)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrReasoningUnavailable):
		return "unavailable"
	case isParseError(err):
		return "parse_error"
	default:
		return "fatal"
	}
}

func isParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
