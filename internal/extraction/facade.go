package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/ravikadam/tasks/internal/logging"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/ravikadam/tasks/internal/extraction"

// ReasonDisabled is the fallback reason when no model is configured.
const ReasonDisabled = "disabled"

// Result is the outcome of one facade call. Candidates come from exactly
// one extractor.
type Result struct {
	Candidates     []Candidate `json:"candidates"`
	Source         Source      `json:"source"`
	FallbackReason string      `json:"fallback_reason,omitempty"`
}

// Facade chooses between the model and fallback extractors per call.
type Facade struct {
	model    Extractor
	fallback *FallbackExtractor
	breaker  *gobreaker.CircuitBreaker
	logger   *logging.Logger
	tracer   trace.Tracer
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithLogger sets the facade logger.
func WithLogger(l *logging.Logger) FacadeOption {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBreaker guards the model path with a circuit breaker that opens after
// failures consecutive model errors and stays open for cooldown.
func WithBreaker(failures int, cooldown time.Duration) FacadeOption {
	return func(f *Facade) {
		if failures <= 0 {
			return
		}
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "model",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn(context.Background(), "model circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
}

// NewFacade creates a facade. A nil model runs every call through the
// fallback.
func NewFacade(model Extractor, fallback *FallbackExtractor, opts ...FacadeOption) *Facade {
	if fallback == nil {
		fallback = NewFallbackExtractor(nil)
	}
	f := &Facade{
		model:    model,
		fallback: fallback,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ModelEnabled reports whether calls try the model first.
func (f *Facade) ModelEnabled() bool {
	return f.model != nil
}

// Extract returns candidates for text. It never fails: any model error
// sends the same text to the fallback extractor.
func (f *Facade) Extract(ctx context.Context, text string) Result {
	ctx, span := f.tracer.Start(ctx, "extraction.Extract")
	defer span.End()

	result := f.extract(ctx, text)
	if result.Candidates == nil {
		result.Candidates = []Candidate{}
	}

	span.SetAttributes(
		attribute.String("extraction.source", string(result.Source)),
		attribute.Int("extraction.candidates", len(result.Candidates)),
	)
	if result.FallbackReason != "" {
		span.SetAttributes(attribute.String("extraction.fallback_reason", result.FallbackReason))
	}

	sourceTotal.WithLabelValues(string(result.Source)).Inc()
	for _, c := range result.Candidates {
		candidatesTotal.WithLabelValues(string(c.Source), string(c.Type)).Inc()
	}
	return result
}

func (f *Facade) extract(ctx context.Context, text string) Result {
	if f.model == nil {
		return f.useFallback(ctx, text, ReasonDisabled, nil)
	}

	candidates, err := f.callModel(ctx, text)
	if err == nil {
		return Result{Candidates: candidates, Source: SourceModel}
	}

	reason := string(KindUnavailable)
	var extErr *Error
	if errors.As(err, &extErr) {
		reason = string(extErr.Kind)
	}
	return f.useFallback(ctx, text, reason, err)
}

func (f *Facade) callModel(ctx context.Context, text string) ([]Candidate, error) {
	if f.breaker == nil {
		return f.model.Extract(ctx, text)
	}
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.model.Extract(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindUnavailable, Err: err}
	}
	if err != nil {
		return nil, err
	}
	candidates, _ := out.([]Candidate)
	return candidates, nil
}

func (f *Facade) useFallback(ctx context.Context, text, reason string, cause error) Result {
	fallbacksTotal.WithLabelValues(reason).Inc()
	if cause != nil {
		f.logger.Warn(ctx, "model extraction failed, using fallback",
			zap.String("reason", reason),
			zap.Error(cause))
	} else {
		f.logger.Debug(ctx, "model extraction disabled, using fallback")
	}

	candidates, _ := f.fallback.Extract(ctx, text)
	return Result{Candidates: candidates, Source: SourceFallback, FallbackReason: reason}
}
