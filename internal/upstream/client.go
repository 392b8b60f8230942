// Package upstream is the JSON-over-HTTP client shared by the case and
// task store clients.
//
// Network-level failures are retried with exponential backoff up to the
// configured number of attempts. Any HTTP response, including 5xx, ends
// the retry loop and is returned as a *StatusError for the caller to map.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const maxErrorBody = 512

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "taskagent_upstream_request_duration_seconds",
	Help:    "Duration of requests to the case and task stores.",
	Buckets: prometheus.DefBuckets,
}, []string{"service", "method", "status"})

// StatusError is a non-2xx response from a store.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client issues JSON requests against one store.
type Client struct {
	service     string
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	logger      *logging.Logger
}

// New creates a client for service using cfg.
func New(service string, cfg config.StoreConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		service:     service,
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout.Duration()},
		maxAttempts: attempts,
		baseBackoff: cfg.BaseBackoff.Duration(),
		logger:      logger.Named(service),
	}
}

// Do sends body as JSON and decodes a 2xx response into out. Either may be
// nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s request: %w", c.service, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	op := func() error {
		return c.attempt(ctx, method, path, target, payload, out)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn(ctx, "upstream request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(op, c.policy(ctx), notify)
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.baseBackoff > 0 {
		b.InitialInterval = c.baseBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

func (c *Client) attempt(ctx context.Context, method, path, target string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s request: %w", c.service, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(c.service, method, "error").Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("%s %s %s: %w", c.service, method, path, err))
		}
		return fmt.Errorf("%s %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()
	requestDuration.WithLabelValues(c.service, method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return backoff.Permanent(&StatusError{
			Service:    c.service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		})
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", c.service, err))
	}
	return nil
}
