package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const anthropicVersion = "2023-06-01"

// Transport issues a single synchronous call to the reasoning engine. All
// retry, backoff and parsing logic lives in the Client, not here.
type Transport interface {
	Send(ctx context.Context, prompt Prompt) (string, error)
}

// AnthropicTransport talks to the Anthropic Messages API
type AnthropicTransport struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicTransport creates a transport for the given endpoint and model
func NewAnthropicTransport(baseURL, apiKey, model string) *AnthropicTransport {
	return &AnthropicTransport{
		baseURL:   baseURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: 4000,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send issues one Messages API call and returns the text of the response.
// Errors come back already classified: 429 as RateLimitedError, network and
// 5xx failures as TransportError, everything else as a plain error.
func (t *AnthropicTransport) Send(ctx context.Context, prompt Prompt) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     t.model,
		MaxTokens: t.maxTokens,
		System:    prompt.System,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt.User}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return "", &TransportError{Err: fmt.Errorf("engine returned status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		// 4xx other than 429 will not get better on retry
		return "", fmt.Errorf("engine returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &TransportError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &TransportError{Err: fmt.Errorf("engine error: %s", parsed.Error.Type)}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
