package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/logging"
	"go.uber.org/zap"
)

// NewCompleter creates the completer for cfg.Provider.
func NewCompleter(cfg config.ModelConfig) (Completer, error) {
	opts := completerOptions{
		APIKey:      cfg.APIKey.Value(),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout.Duration(),
		MaxRetries:  cfg.MaxRetries,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAICompleter(opts)
	case "anthropic":
		return newAnthropicCompleter(opts)
	case "langchain":
		return newLangchainCompleter(opts)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

// NewFromConfig wires a facade from configuration. When the model is not
// configured, or its completer cannot be built, the facade runs on the
// fallback extractor alone.
func NewFromConfig(cfg config.ModelConfig, scrubber Scrubber, logger *logging.Logger, now func() time.Time) *Facade {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	fallback := NewFallbackExtractor(now)

	if !cfg.Configured() {
		logger.Info(ctx, "model extraction not configured, fallback only",
			zap.String("provider", cfg.Provider))
		return NewFacade(nil, fallback, WithLogger(logger))
	}

	completer, err := NewCompleter(cfg)
	if err != nil {
		logger.Warn(ctx, "model completer unavailable, fallback only",
			zap.String("provider", cfg.Provider),
			zap.Error(err))
		return NewFacade(nil, fallback, WithLogger(logger))
	}

	model := NewModelExtractor(completer, scrubber, cfg.Timeout.Duration(), now)
	return NewFacade(model, fallback,
		WithLogger(logger),
		WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown.Duration()))
}
