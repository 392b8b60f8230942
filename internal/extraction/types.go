// Package extraction turns free text into candidate tasks.
//
// Two implementations of Extractor exist. ModelExtractor asks a completion
// backend for structured output. FallbackExtractor is a deterministic
// keyword and pattern matcher that needs no network. Facade picks one per
// call and never returns an extraction error to its caller.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ravikadam/tasks/internal/schema"
)

// Source records which extractor produced a candidate.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// FallbackConfidence marks fallback output. It is a provenance tag, not a
// quality score.
const FallbackConfidence = 0.3

// Candidate is one extracted task before reconciliation. Attribute keys are
// always a subset of the type's schema.
type Candidate struct {
	Title       string          `json:"title"`
	Type        schema.TaskType `json:"task_type"`
	Description string          `json:"description"`
	Attributes  map[string]any  `json:"attributes"`
	Priority    schema.Priority `json:"priority"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Source      Source          `json:"source"`
	Confidence  float64         `json:"confidence"`
}

// Extractor produces candidates from text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

// ErrorKind classifies extraction failures for observability. The facade
// treats every kind the same way.
type ErrorKind string

const (
	KindUnavailable       ErrorKind = "unavailable"
	KindTimeout           ErrorKind = "timeout"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is the only error type ModelExtractor returns.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Err: fmt.Errorf(format, args...)}
}

// classify maps a transport error to Timeout or Unavailable.
func classify(err error) *Error {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnavailable, Err: err}
}
