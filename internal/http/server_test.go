package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ravikadam/tasks/internal/casestore"
	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/orchestrator"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []orchestrator.Request
	err   error
}

func (p *fakeProcessor) Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	caseID := req.CaseID
	if caseID == "" {
		caseID = "case-1"
	}
	return &orchestrator.Result{
		CaseID:       caseID,
		Response:     "I've noted your message. How can I help you further?",
		ActionsTaken: []string{"Added conversation entry"},
		TasksCreated: []string{},
		TasksUpdated: []string{},
	}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestServer(t *testing.T, p Processor, cfg *Config) *Server {
	t.Helper()
	facade := extraction.NewFacade(nil, extraction.NewFallbackExtractor(time.Now))
	server, err := NewServer(p, facade, logging.NewNop(), cfg)
	require.NoError(t, err)
	return server
}

func post(s *Server, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	facade := extraction.NewFacade(nil, extraction.NewFallbackExtractor(time.Now))

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(&fakeProcessor{}, facade, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
		assert.Equal(t, "dev", server.config.Version)
		assert.Nil(t, server.replay)
	})

	t.Run("enables replay with a ttl", func(t *testing.T) {
		server, err := NewServer(&fakeProcessor{}, facade, logging.NewNop(), &Config{IdempotencyTTL: time.Minute})
		require.NoError(t, err)
		assert.NotNil(t, server.replay)
	})

	t.Run("rejects missing collaborators", func(t *testing.T) {
		_, err := NewServer(nil, facade, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "processor cannot be nil")

		_, err = NewServer(&fakeProcessor{}, nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "extractor cannot be nil")

		_, err = NewServer(&fakeProcessor{}, facade, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, &fakeProcessor{}, &Config{Version: "1.4.0"})

	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", Service: "taskagent", Version: "1.4.0"}, resp)
}

func TestHandleProcess(t *testing.T) {
	t.Run("passes the request through", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, nil)

		rec := post(server, "/api/v1/process",
			`{"message":"buy milk","sender_id":"u-1","channel":"Email","case_id":"case-9"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, p.calls, 1)
		assert.Equal(t, orchestrator.Request{
			Message:  "buy milk",
			SenderID: "u-1",
			Channel:  orchestrator.ChannelEmail,
			CaseID:   "case-9",
		}, p.calls[0])

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "case-9", body["case_id"])
		assert.Equal(t, []any{"Added conversation entry"}, body["actions_taken"])
		assert.Equal(t, []any{}, body["tasks_created"])
		assert.Equal(t, []any{}, body["tasks_updated"])
		assert.NotContains(t, body, "notes")
	})

	t.Run("accepts an empty message", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, nil)

		rec := post(server, "/api/v1/process", `{"message":"","sender_id":"u-1","channel":"Bot"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, p.calls, 1)
		assert.Equal(t, "", p.calls[0].Message)
	})

	t.Run("adds a request id", func(t *testing.T) {
		server := newTestServer(t, &fakeProcessor{}, nil)
		rec := post(server, "/api/v1/process", `{"message":"hi","sender_id":"u-1","channel":"Bot"}`, nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})
}

func TestHandleProcess_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing message", `{"sender_id":"u-1","channel":"Bot"}`, "message is required"},
		{"missing sender", `{"message":"hi","channel":"Bot"}`, "sender_id is required"},
		{"missing channel", `{"message":"hi","sender_id":"u-1"}`, "channel is required"},
		{"unknown channel", `{"message":"hi","sender_id":"u-1","channel":"Fax"}`, "channel must be one of Bot, Email, WebChat, API"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{}
			server := newTestServer(t, p, nil)

			rec := post(server, "/api/v1/process", tt.body, nil)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, p.callCount())
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		server := newTestServer(t, &fakeProcessor{}, nil)
		rec := post(server, "/api/v1/process", `{"message":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleProcess_WrongFieldType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"numeric message", `{"message":42,"sender_id":"u-1","channel":"Bot"}`, "message must be a string"},
		{"numeric sender", `{"message":"hi","sender_id":7,"channel":"Bot"}`, "sender_id must be a string"},
		{"object channel", `{"message":"hi","sender_id":"u-1","channel":{}}`, "channel must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{}
			server := newTestServer(t, p, nil)

			rec := post(server, "/api/v1/process", tt.body, nil)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, p.callCount())
		})
	}

	t.Run("extract", func(t *testing.T) {
		server := newTestServer(t, &fakeProcessor{}, nil)
		rec := post(server, "/api/v1/extract", `{"message":true}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "message must be a string")
	})
}

func TestHandleProcess_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &orchestrator.Error{Kind: orchestrator.KindValidation, Err: errors.New("sender_id is required")}, http.StatusUnprocessableEntity},
		{"case not found", &orchestrator.Error{Kind: orchestrator.KindCaseNotFound, Err: casestore.ErrNotFound}, http.StatusNotFound},
		{"upstream", &orchestrator.Error{Kind: orchestrator.KindUpstreamUnavailable, Err: errors.New("dial tcp: refused")}, http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, &fakeProcessor{err: tt.err}, nil)
			rec := post(server, "/api/v1/process", `{"message":"hi","sender_id":"u-1","channel":"API","case_id":"c"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "refused", "internal causes are not exposed")
		})
	}
}

func TestHandleProcess_IdempotencyReplay(t *testing.T) {
	body := `{"message":"buy milk","sender_id":"u-1","channel":"WebChat","case_id":"case-9"}`

	t.Run("replays a repeated key", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, &Config{IdempotencyTTL: time.Minute})
		key := map[string]string{HeaderIdempotencyKey: "k-1"}

		first := post(server, "/api/v1/process", body, key)
		second := post(server, "/api/v1/process", body, key)

		require.Equal(t, http.StatusOK, first.Code)
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, 1, p.callCount())
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Empty(t, first.Header().Get(HeaderIdempotentReplay))
		assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	})

	t.Run("keys are scoped to the sender", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, &Config{IdempotencyTTL: time.Minute})
		key := map[string]string{HeaderIdempotencyKey: "k-1"}

		post(server, "/api/v1/process", body, key)
		post(server, "/api/v1/process", strings.Replace(body, "u-1", "u-2", 1), key)
		assert.Equal(t, 2, p.callCount())
	})

	t.Run("no key processes every request", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, &Config{IdempotencyTTL: time.Minute})

		post(server, "/api/v1/process", body, nil)
		post(server, "/api/v1/process", body, nil)
		assert.Equal(t, 2, p.callCount())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		p := &fakeProcessor{err: &orchestrator.Error{Kind: orchestrator.KindUpstreamUnavailable, Err: errors.New("down")}}
		server := newTestServer(t, p, &Config{IdempotencyTTL: time.Minute})
		key := map[string]string{HeaderIdempotencyKey: "k-1"}

		post(server, "/api/v1/process", body, key)
		rec := post(server, "/api/v1/process", body, key)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, 2, p.callCount())
	})

	t.Run("disabled without a ttl", func(t *testing.T) {
		p := &fakeProcessor{}
		server := newTestServer(t, p, nil)
		key := map[string]string{HeaderIdempotencyKey: "k-1"}

		post(server, "/api/v1/process", body, key)
		post(server, "/api/v1/process", body, key)
		assert.Equal(t, 2, p.callCount())
	})
}

func TestHandleExtract(t *testing.T) {
	p := &fakeProcessor{}
	server := newTestServer(t, p, nil)

	rec := post(server, "/api/v1/extract", `{"message":"call John and buy groceries"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res extraction.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, extraction.SourceFallback, res.Source)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, schema.TypeCall, res.Candidates[0].Type)
	assert.Equal(t, schema.TypeShopping, res.Candidates[1].Type)
	assert.Zero(t, p.callCount(), "extraction has no side effects")

	rec = post(server, "/api/v1/extract", `{}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	server := newTestServer(t, &fakeProcessor{}, nil)

	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMiddleware_RecoversFromPanic(t *testing.T) {
	server := newTestServer(t, &fakeProcessor{}, nil)
	server.echo.GET("/panic", func(c echo.Context) error {
		panic("test panic")
	})

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	server := newTestServer(t, &fakeProcessor{}, &Config{Host: "localhost", Port: 0})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
