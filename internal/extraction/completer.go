package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultBaseBackoff      = 500 * time.Millisecond
	maxErrorBody            = 512
)

// Completer sends one prompt to a completion backend and returns the text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// completerOptions carries the settings shared by every backend.
type completerOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   float64
	Burst       int
}

// retryableError marks transient failures: network errors, 429 and 5xx.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// completeWithRetry waits on the limiter, then runs do up to maxRetries+1
// times with exponential backoff between transient failures.
func completeWithRetry(ctx context.Context, limiter *rate.Limiter, maxRetries int, do func(context.Context) (string, error)) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := do(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// postJSON sends body and returns the response payload for a 200. Other
// statuses become errors; 429 and 5xx are retryable.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, truncateBody(data))}
	default:
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, truncateBody(data))
	}
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

// openAICompleter calls /v1/chat/completions.
type openAICompleter struct {
	opts       completerOptions
	httpClient *http.Client
	limiter    *rate.Limiter
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func newOpenAICompleter(opts completerOptions) (*openAICompleter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai API key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOpenAIBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	return &openAICompleter{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
	}, nil
}

// Complete implements Completer.
func (o *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	req := openAIRequest{
		Model: o.opts.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    o.opts.Temperature,
		MaxTokens:      o.opts.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + o.opts.APIKey}

	return completeWithRetry(ctx, o.limiter, o.opts.MaxRetries, func(ctx context.Context) (string, error) {
		data, err := postJSON(ctx, o.httpClient, o.opts.BaseURL+"/v1/chat/completions", headers, req)
		if err != nil {
			return "", err
		}
		var resp openAIResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", malformed("failed to parse completion envelope: %v", err)
		}
		if len(resp.Choices) == 0 {
			return "", malformed("empty response from API")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// anthropicCompleter calls /v1/messages.
type anthropicCompleter struct {
	opts       completerOptions
	httpClient *http.Client
	limiter    *rate.Limiter
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
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
}

func newAnthropicCompleter(opts completerOptions) (*anthropicCompleter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultAnthropicBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	return &anthropicCompleter{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
	}, nil
}

// Complete implements Completer.
func (a *anthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.opts.Model,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	}
	headers := map[string]string{
		"X-API-Key":         a.opts.APIKey,
		"Anthropic-Version": "2023-06-01",
	}

	return completeWithRetry(ctx, a.limiter, a.opts.MaxRetries, func(ctx context.Context) (string, error) {
		data, err := postJSON(ctx, a.httpClient, a.opts.BaseURL+"/v1/messages", headers, req)
		if err != nil {
			return "", err
		}
		var resp anthropicResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", malformed("failed to parse completion envelope: %v", err)
		}
		for _, block := range resp.Content {
			if block.Type == "text" || block.Type == "" {
				return block.Text, nil
			}
		}
		return "", malformed("empty response from API")
	})
}

var (
	_ Completer = (*openAICompleter)(nil)
	_ Completer = (*anthropicCompleter)(nil)
)
