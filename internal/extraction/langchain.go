package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// placeholderToken satisfies langchaingo for self-hosted endpoints (Ollama,
// vLLM, LocalAI) that accept any bearer token.
const placeholderToken = "unused"

// langchainCompleter reaches any OpenAI-compatible endpoint through
// langchaingo.
type langchainCompleter struct {
	llm        llms.Model
	opts       completerOptions
	limiter    *rate.Limiter
	callOption []llms.CallOption
}

func newLangchainCompleter(opts completerOptions) (*langchainCompleter, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("langchain provider requires base_url")
	}
	token := opts.APIKey
	if token == "" {
		token = placeholderToken
	}

	clientOpts := []openai.Option{
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(token),
	}
	if opts.Model != "" {
		clientOpts = append(clientOpts, openai.WithModel(opts.Model))
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating langchain client: %w", err)
	}

	return &langchainCompleter{
		llm:     llm,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		callOption: []llms.CallOption{
			llms.WithTemperature(opts.Temperature),
			llms.WithMaxTokens(opts.MaxTokens),
		},
	}, nil
}

// Complete implements Completer. langchaingo errors are untyped, so any
// failure other than cancellation is treated as transient.
func (l *langchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	full := systemPrompt + "\n\n" + prompt
	return completeWithRetry(ctx, l.limiter, l.opts.MaxRetries, func(ctx context.Context) (string, error) {
		text, err := llms.GenerateFromSinglePrompt(ctx, l.llm, full, l.callOption...)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			return "", &retryableError{err: fmt.Errorf("langchain completion: %w", err)}
		}
		return text, nil
	})
}

var _ Completer = (*langchainCompleter)(nil)
