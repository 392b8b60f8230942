package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ravikadam/tasks/internal/casestore"
	"github.com/ravikadam/tasks/internal/events"
	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	instrumentationName = "github.com/ravikadam/tasks/internal/orchestrator"

	actionCreatedCase = "Created new case"
	actionAddedEntry  = "Added conversation entry"
	actionReopened    = "Reopened case"

	defaultCaseTitle = "New conversation"
	caseTitleWords   = 6
)

// Orchestrator processes inbound messages. It holds no per-request state
// and is safe for concurrent use.
type Orchestrator struct {
	cases     CaseStore
	tasks     TaskStore
	extractor Extractor
	publisher events.Publisher
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
	timeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithClock sets the clock used for entry timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRequestTimeout bounds each Process call. Zero means no bound beyond
// the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// New creates an orchestrator.
func New(cases CaseStore, tasks TaskStore, extractor Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cases:     cases,
		tasks:     tasks,
		extractor: extractor,
		publisher: events.NoopPublisher{},
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process handles one inbound message end to end.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Process",
		trace.WithAttributes(
			attribute.String("channel", string(req.Channel)),
			attribute.Bool("case.provided", req.CaseID != ""),
		))
	defer span.End()

	ctx = logging.WithChannel(ctx, string(req.Channel))

	res, err := o.process(ctx, req)
	processDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var oerr *Error
		if errors.As(err, &oerr) {
			processTotal.WithLabelValues(string(oerr.Kind)).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn(ctx, "message processing failed", zap.Error(err))
		return nil, err
	}

	outcome := "ok"
	if len(res.Notes) > 0 {
		outcome = "partial"
	}
	processTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("case.id", res.CaseID),
		attribute.Int("tasks.created", len(res.TasksCreated)),
		attribute.Int("tasks.updated", len(res.TasksUpdated)),
		attribute.Int("notes", len(res.Notes)),
	)
	o.logger.Info(logging.WithCaseID(ctx, res.CaseID), "message processed",
		zap.String("source", string(res.Source)),
		zap.Int("tasks_created", len(res.TasksCreated)),
		zap.Int("tasks_updated", len(res.TasksUpdated)),
		zap.Int("notes", len(res.Notes)))
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	res := &Result{
		ActionsTaken: []string{},
		TasksCreated: []string{},
		TasksUpdated: []string{},
	}

	var (
		c         *casestore.Case
		extracted extraction.Result
		newCase   = req.CaseID == ""
	)

	if newCase {
		extracted = o.extractor.Extract(ctx, req.Message)

		var err error
		c, err = o.createCase(ctx, req, extracted.Candidates)
		if err != nil {
			return nil, err
		}
		ctx = logging.WithCaseID(ctx, c.ID)
		res.CaseID = c.ID
		res.ActionsTaken = append(res.ActionsTaken, actionCreatedCase)

		// The case store has no delete, so a case whose first entry failed
		// stays behind empty. Its id is logged and carried in the error.
		if err := o.appendUserEntry(ctx, c.ID, req); err != nil {
			o.logger.Error(ctx, "case created without its first entry",
				zap.String("orphaned_case_id", c.ID),
				zap.Error(err))
			return nil, &Error{
				Kind: KindUpstreamUnavailable,
				Err:  fmt.Errorf("case %s created without its first entry: %w", c.ID, errors.Unwrap(err)),
			}
		}
	} else {
		var err error
		c, err = o.getCase(ctx, req.CaseID)
		if err != nil {
			return nil, err
		}
		ctx = logging.WithCaseID(ctx, c.ID)
		res.CaseID = c.ID

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return o.appendUserEntry(gctx, c.ID, req)
		})
		g.Go(func() error {
			extracted = o.extractor.Extract(gctx, req.Message)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	res.ActionsTaken = append(res.ActionsTaken, actionAddedEntry)
	res.Source = extracted.Source

	if !newCase && c.Status.Finished() {
		o.reopen(ctx, c, res)
	}

	open := o.openTasks(ctx, c.ID, newCase, res)
	o.writeTasks(ctx, c.ID, reconcile(extracted.Candidates, open), res)

	res.Response = composeResponse(res)
	o.appendAgentEntry(ctx, c.ID, res.Response)
	o.publish(ctx, res)

	return res, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.SenderID) == "" {
		return &Error{Kind: KindValidation, Err: errors.New("sender_id is required")}
	}
	if !req.Channel.Valid() {
		return &Error{Kind: KindValidation, Err: fmt.Errorf("unknown channel %q", req.Channel)}
	}
	return nil
}

func (o *Orchestrator) getCase(ctx context.Context, id string) (*casestore.Case, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.getCase")
	defer span.End()

	c, err := o.cases.GetCase(ctx, id)
	if errors.Is(err, casestore.ErrNotFound) {
		return nil, &Error{Kind: KindCaseNotFound, Err: err}
	}
	if err != nil {
		span.RecordError(err)
		return nil, &Error{Kind: KindUpstreamUnavailable, Err: err}
	}
	return c, nil
}

func (o *Orchestrator) createCase(ctx context.Context, req Request, candidates []extraction.Candidate) (*casestore.Case, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.createCase")
	defer span.End()

	nc := casestore.NewCase{
		Title:       caseTitle(req.Message, candidates),
		Description: req.Message,
		Priority:    schema.InferPriority(req.Message),
	}
	if req.SenderID != "" {
		sender := req.SenderID
		nc.AssignedTo = &sender
	}

	c, err := o.cases.CreateCase(ctx, nc)
	if err != nil {
		span.RecordError(err)
		return nil, &Error{Kind: KindUpstreamUnavailable, Err: err}
	}
	return c, nil
}

// caseTitle prefers the first candidate's title, then the first words of
// the message.
func caseTitle(message string, candidates []extraction.Candidate) string {
	if len(candidates) > 0 && candidates[0].Title != "" {
		return candidates[0].Title
	}
	words := strings.Fields(message)
	if len(words) == 0 {
		return defaultCaseTitle
	}
	if len(words) > caseTitleWords {
		words = words[:caseTitleWords]
	}
	return truncate(strings.Join(words, " "), 50)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func (o *Orchestrator) appendUserEntry(ctx context.Context, caseID string, req Request) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.appendEntry")
	defer span.End()

	_, err := o.cases.AppendEntry(ctx, casestore.Entry{
		CaseID:    caseID,
		Message:   req.Message,
		Sender:    casestore.SenderUser,
		Timestamp: o.now().UTC(),
		Metadata: map[string]any{
			"channel":   string(req.Channel),
			"sender_id": req.SenderID,
		},
	})
	if err != nil {
		span.RecordError(err)
		return &Error{Kind: KindUpstreamUnavailable, Err: err}
	}
	return nil
}

// appendAgentEntry records the reply. Failure leaves the result unchanged.
func (o *Orchestrator) appendAgentEntry(ctx context.Context, caseID, response string) {
	_, err := o.cases.AppendEntry(ctx, casestore.Entry{
		CaseID:    caseID,
		Message:   response,
		Sender:    casestore.SenderAgent,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		o.logger.Warn(ctx, "failed to append agent reply", zap.Error(err))
	}
}

func (o *Orchestrator) reopen(ctx context.Context, c *casestore.Case, res *Result) {
	if _, err := o.cases.UpdateState(ctx, c.ID, casestore.StatusInProgress); err != nil {
		o.logger.Warn(ctx, "failed to reopen case",
			zap.String("status", string(c.Status)),
			zap.Error(err))
		res.Notes = append(res.Notes, Note{
			Kind:    NoteCaseReopenFailure,
			Message: fmt.Sprintf("case is %s and could not be reopened", c.Status),
		})
		return
	}
	res.ActionsTaken = append(res.ActionsTaken, actionReopened)
}

func (o *Orchestrator) publish(ctx context.Context, res *Result) {
	now := o.now()
	requestID := logging.RequestIDFromContext(ctx)

	processed := events.New(events.KindMessageProcessed, res.CaseID, now)
	processed.RequestID = requestID
	processed.Data = map[string]any{
		"source":        string(res.Source),
		"tasks_created": len(res.TasksCreated),
		"tasks_updated": len(res.TasksUpdated),
		"notes":         len(res.Notes),
	}
	batch := []events.Event{processed}

	if len(res.TasksCreated) > 0 {
		e := events.New(events.KindTasksCreated, res.CaseID, now)
		e.RequestID = requestID
		e.TaskIDs = res.TasksCreated
		batch = append(batch, e)
	}
	if len(res.TasksUpdated) > 0 {
		e := events.New(events.KindTasksUpdated, res.CaseID, now)
		e.RequestID = requestID
		e.TaskIDs = res.TasksUpdated
		batch = append(batch, e)
	}

	for _, e := range batch {
		if err := o.publisher.Publish(ctx, e); err != nil {
			o.logger.Warn(ctx, "failed to publish event",
				zap.String("event", string(e.Kind)),
				zap.Error(err))
		}
	}
}
