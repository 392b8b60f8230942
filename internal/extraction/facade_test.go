package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type stubExtractor struct {
	calls      atomic.Int32
	candidates []Candidate
	err        error
}

func (s *stubExtractor) Extract(context.Context, string) ([]Candidate, error) {
	s.calls.Add(1)
	return s.candidates, s.err
}

const scenarioText = "I need to call John tomorrow and buy groceries"

func TestFacade_UsesModelOnSuccess(t *testing.T) {
	model := &stubExtractor{candidates: []Candidate{{Title: "Call John", Type: schema.TypeCall, Source: SourceModel, Confidence: 0.9}}}
	f := NewFacade(model, NewFallbackExtractor(fixedClock))

	res := f.Extract(context.Background(), scenarioText)
	assert.Equal(t, SourceModel, res.Source)
	assert.Empty(t, res.FallbackReason)
	assert.Equal(t, model.candidates, res.Candidates)
}

func TestFacade_FallsBackOnEveryErrorKind(t *testing.T) {
	fallback := NewFallbackExtractor(fixedClock)
	want, _ := fallback.Extract(context.Background(), scenarioText)

	for _, kind := range []ErrorKind{KindUnavailable, KindTimeout, KindMalformedResponse} {
		t.Run(string(kind), func(t *testing.T) {
			before := testutil.ToFloat64(fallbacksTotal.WithLabelValues(string(kind)))
			logger := logging.NewTestLogger()

			model := &stubExtractor{
				candidates: []Candidate{{Title: "partial", Source: SourceModel}},
				err:        &Error{Kind: kind, Err: errors.New("boom")},
			}
			f := NewFacade(model, fallback, WithLogger(logger.Logger))

			res := f.Extract(context.Background(), scenarioText)
			assert.Equal(t, SourceFallback, res.Source)
			assert.Equal(t, string(kind), res.FallbackReason)
			assert.Equal(t, want, res.Candidates, "model output is never merged")

			assert.Equal(t, before+1, testutil.ToFloat64(fallbacksTotal.WithLabelValues(string(kind))))
			logger.AssertLogged(t, zapcore.WarnLevel, "model extraction failed, using fallback")
			logger.AssertField(t, "model extraction failed, using fallback", "reason", string(kind))
		})
	}
}

func TestFacade_NoModel(t *testing.T) {
	f := NewFacade(nil, NewFallbackExtractor(fixedClock))
	assert.False(t, f.ModelEnabled())

	res := f.Extract(context.Background(), scenarioText)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, ReasonDisabled, res.FallbackReason)
	assert.Len(t, res.Candidates, 2)
}

func TestFacade_EmptyResultIsList(t *testing.T) {
	for name, model := range map[string]Extractor{
		"fallback": nil,
		"model":    &stubExtractor{},
	} {
		t.Run(name, func(t *testing.T) {
			f := NewFacade(model, NewFallbackExtractor(fixedClock))
			res := f.Extract(context.Background(), "   ")
			require.NotNil(t, res.Candidates)

			out, err := json.Marshal(res)
			require.NoError(t, err)
			assert.Contains(t, string(out), `"candidates":[]`)
		})
	}
}

func TestFacade_BreakerOpensAfterFailures(t *testing.T) {
	model := &stubExtractor{err: &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}}
	f := NewFacade(model, NewFallbackExtractor(fixedClock), WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		res := f.Extract(context.Background(), scenarioText)
		assert.Equal(t, string(KindTimeout), res.FallbackReason)
	}
	require.Equal(t, int32(2), model.calls.Load())

	res := f.Extract(context.Background(), scenarioText)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, string(KindUnavailable), res.FallbackReason)
	assert.Equal(t, int32(2), model.calls.Load(), "open breaker skips the model")
}

func TestFacade_BreakerRecovers(t *testing.T) {
	model := &stubExtractor{err: &Error{Kind: KindUnavailable, Err: errors.New("down")}}
	f := NewFacade(model, NewFallbackExtractor(fixedClock), WithBreaker(1, 20*time.Millisecond))

	f.Extract(context.Background(), scenarioText)
	assert.Equal(t, SourceFallback, f.Extract(context.Background(), scenarioText).Source)
	assert.Equal(t, int32(1), model.calls.Load())

	model.err = nil
	model.candidates = []Candidate{{Title: "ok", Type: schema.TypeOther, Source: SourceModel}}
	time.Sleep(40 * time.Millisecond)

	res := f.Extract(context.Background(), scenarioText)
	assert.Equal(t, SourceModel, res.Source)
}

func TestNewFromConfig(t *testing.T) {
	t.Run("unconfigured model is fallback only", func(t *testing.T) {
		cfg := config.Default().Model
		cfg.APIKey = ""
		f := NewFromConfig(cfg, nil, nil, fixedClock)
		assert.False(t, f.ModelEnabled())
	})

	t.Run("disabled provider is fallback only", func(t *testing.T) {
		cfg := config.Default().Model
		cfg.Provider = "disabled"
		cfg.APIKey = "sk-test"
		assert.False(t, NewFromConfig(cfg, nil, nil, fixedClock).ModelEnabled())
	})

	t.Run("configured openai enables the model", func(t *testing.T) {
		cfg := config.Default().Model
		cfg.APIKey = "sk-test"
		assert.True(t, NewFromConfig(cfg, nil, nil, fixedClock).ModelEnabled())
	})

	t.Run("langchain needs only a base url", func(t *testing.T) {
		cfg := config.Default().Model
		cfg.Provider = "langchain"
		cfg.BaseURL = "http://localhost:11434/v1"
		assert.True(t, NewFromConfig(cfg, nil, nil, fixedClock).ModelEnabled())
	})
}
