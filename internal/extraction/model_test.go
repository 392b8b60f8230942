package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ravikadam/tasks/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type passwordScrubber struct{}

func (passwordScrubber) Scrub(text string) string {
	return strings.ReplaceAll(text, "hunter2", "[REDACTED]")
}

func testOptions(baseURL string) completerOptions {
	return completerOptions{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		RateLimit:  100,
		Burst:      10,
		MaxTokens:  256,
	}
}

func openAIEnvelope(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func extractErrorKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var extErr *Error
	require.True(t, errors.As(err, &extErr), "expected *extraction.Error, got %T", err)
	return extErr.Kind
}

func TestOpenAICompleter(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(openAIEnvelope(`{"tasks":[{"type":"Call","title":"Call John","attributes":{"contact_person":"John"}}]}`)))
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	m := NewModelExtractor(c, nil, time.Second, fixedClock)
	got, err := m.Extract(context.Background(), "call John")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.TypeCall, got[0].Type)
	assert.Equal(t, map[string]any{"contact_person": "John"}, got[0].Attributes)

	assert.Equal(t, defaultOpenAIModel, gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "call John")
	assert.Contains(t, gotReq.Messages[1].Content, "Call: contact_person (string)")
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestAnthropicCompleter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, systemPrompt, req.System)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": `[{"type":"Shopping","title":"Buy milk"}]`}},
		})
	}))
	defer srv.Close()

	c, err := newAnthropicCompleter(testOptions(srv.URL))
	require.NoError(t, err)

	got, err := NewModelExtractor(c, nil, time.Second, fixedClock).Extract(context.Background(), "buy milk")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.TypeShopping, got[0].Type)
}

func TestCompleters_RequireAPIKey(t *testing.T) {
	_, err := newOpenAICompleter(completerOptions{})
	assert.Error(t, err)
	_, err = newAnthropicCompleter(completerOptions{})
	assert.Error(t, err)
	_, err = newLangchainCompleter(completerOptions{})
	assert.Error(t, err, "langchain needs a base url")
}

func TestCompleter_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(openAIEnvelope(`{"tasks":[]}`)))
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, 5*time.Second, fixedClock).Extract(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleter_GivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, 5*time.Second, fixedClock).Extract(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, extractErrorKind(t, err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleter_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, time.Second, fixedClock).Extract(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, extractErrorKind(t, err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestModelExtractor_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, 50*time.Millisecond, fixedClock).Extract(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, extractErrorKind(t, err))
}

func TestModelExtractor_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(openAIEnvelope("Sorry, I can't do that.")))
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, time.Second, fixedClock).Extract(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindMalformedResponse, extractErrorKind(t, err))
}

func TestModelExtractor_MalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c, err := newOpenAICompleter(testOptions(srv.URL))
	require.NoError(t, err)

	_, err = NewModelExtractor(c, nil, time.Second, fixedClock).Extract(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindMalformedResponse, extractErrorKind(t, err))
}

func TestModelExtractor_ScrubsPrompt(t *testing.T) {
	var prompt string
	c := completerFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `[]`, nil
	})

	_, err := NewModelExtractor(c, passwordScrubber{}, time.Second, fixedClock).Extract(context.Background(), "my password is hunter2")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "hunter2")
	assert.Contains(t, prompt, "[REDACTED]")
	assert.Contains(t, prompt, "Today is 2024-06-05 (Wednesday)")
}

func TestModelExtractor_NoCompleter(t *testing.T) {
	_, err := NewModelExtractor(nil, nil, time.Second, nil).Extract(context.Background(), "hello")
	assert.Equal(t, KindUnavailable, extractErrorKind(t, err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindUnavailable, classify(errors.New("connection refused")).Kind)

	orig := malformed("bad")
	assert.Same(t, orig, classify(orig))
}
