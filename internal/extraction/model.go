package extraction

import (
	"context"
	"errors"
	"time"
)

// Scrubber removes secrets from text before it leaves the process.
type Scrubber interface {
	Scrub(text string) string
}

// ModelExtractor asks a completion backend for structured candidates.
type ModelExtractor struct {
	completer Completer
	scrubber  Scrubber
	timeout   time.Duration
	now       func() time.Time
}

// NewModelExtractor creates a model extractor. scrubber may be nil.
func NewModelExtractor(completer Completer, scrubber Scrubber, timeout time.Duration, now func() time.Time) *ModelExtractor {
	if now == nil {
		now = time.Now
	}
	return &ModelExtractor{
		completer: completer,
		scrubber:  scrubber,
		timeout:   timeout,
		now:       now,
	}
}

// Extract implements Extractor. Every error it returns is an *Error.
func (m *ModelExtractor) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if m.completer == nil {
		return nil, &Error{Kind: KindUnavailable, Err: errors.New("no completer configured")}
	}
	if m.scrubber != nil {
		text = m.scrubber.Scrub(text)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	now := m.now()
	raw, err := m.completer.Complete(ctx, buildPrompt(text, now))
	if err != nil {
		return nil, classify(err)
	}

	candidates, err := parseCandidates(raw, now.Location())
	if err != nil {
		return nil, classify(err)
	}
	return candidates, nil
}

var _ Extractor = (*ModelExtractor)(nil)
