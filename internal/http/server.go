// Package http serves the task agent API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/orchestrator"
	"go.uber.org/zap"
)

const (
	serviceName = "taskagent"

	// HeaderIdempotencyKey marks a request that may be retried by the caller.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay is set on responses served from the replay cache.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

// Processor handles inbound messages.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Extractor runs extraction without side effects.
type Extractor interface {
	Extract(ctx context.Context, text string) extraction.Result
}

// Server provides HTTP endpoints for the task agent.
type Server struct {
	echo      *echo.Echo
	processor Processor
	extractor Extractor
	replay    *cache.Cache
	logger    *logging.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// IdempotencyTTL is how long a processed response is replayed. Zero
	// disables replay.
	IdempotencyTTL time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(processor Processor, extractor Extractor, logger *logging.Logger, cfg *Config) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()

	metrics := NewHTTPMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:      e,
		processor: processor,
		extractor: extractor,
		logger:    logger,
		config:    cfg,
	}
	if cfg.IdempotencyTTL > 0 {
		s.replay = cache.New(cfg.IdempotencyTTL, 2*cfg.IdempotencyTTL)
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/process", s.handleProcess)
	v1.POST("/extract", s.handleExtract)
}

// ProcessRequest is the request body for POST /api/v1/process. Message may
// be empty but must be present.
type ProcessRequest struct {
	Message  *string `json:"message" validate:"required"`
	SenderID string  `json:"sender_id" validate:"required"`
	Channel  string  `json:"channel" validate:"required,oneof=Bot Email WebChat API"`
	CaseID   string  `json:"case_id,omitempty"`
}

// ExtractRequest is the request body for POST /api/v1/extract.
type ExtractRequest struct {
	Message *string `json:"message" validate:"required"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
		Version: s.config.Version,
	})
}

func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid process request", zap.Error(err))
		return bindError(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationMessage(err))
	}

	key := s.replayKey(c, req.SenderID)
	if key != "" {
		if cached, ok := s.replay.Get(key); ok {
			c.Response().Header().Set(HeaderIdempotentReplay, "true")
			return c.JSON(http.StatusOK, cached)
		}
	}

	res, err := s.processor.Process(c.Request().Context(), orchestrator.Request{
		Message:  *req.Message,
		SenderID: req.SenderID,
		Channel:  orchestrator.Channel(req.Channel),
		CaseID:   req.CaseID,
	})
	if err != nil {
		return httpError(err)
	}

	if key != "" {
		s.replay.SetDefault(key, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid extract request", zap.Error(err))
		return bindError(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationMessage(err))
	}

	return c.JSON(http.StatusOK, s.extractor.Extract(c.Request().Context(), *req.Message))
}

// replayKey scopes the Idempotency-Key header to its sender. It returns ""
// when replay is off or the header is absent.
func (s *Server) replayKey(c echo.Context, senderID string) string {
	if s.replay == nil {
		return ""
	}
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return ""
	}
	return senderID + "\x00" + key
}

// httpError maps a Process failure to its HTTP status.
func httpError(err error) error {
	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	switch oerr.Kind {
	case orchestrator.KindValidation:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, oerr.Err.Error())
	case orchestrator.KindCaseNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "case not found").SetInternal(err)
	case orchestrator.KindUpstreamUnavailable:
		return echo.NewHTTPError(http.StatusBadGateway, "case store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
