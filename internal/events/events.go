// Package events publishes processing events to NATS.
//
// Events are published to subjects:
//   - {prefix}.cases.{case_id}.message_processed
//   - {prefix}.tasks.created
//   - {prefix}.tasks.updated
//
// Delivery is fire-and-forget. Callers log publish errors and move on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/logging"
	"go.uber.org/zap"
)

// Kind names an event.
type Kind string

const (
	KindMessageProcessed Kind = "message_processed"
	KindTasksCreated     Kind = "tasks.created"
	KindTasksUpdated     Kind = "tasks.updated"
)

// Event is the JSON body of every published message.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"type"`
	CaseID     string         `json:"case_id"`
	TaskIDs    []string       `json:"task_ids,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh id.
func New(kind Kind, caseID string, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		CaseID:     caseID,
		OccurredAt: at.UTC(),
	}
}

// Subject returns the NATS subject for e under prefix.
func (e Event) Subject(prefix string) string {
	if e.Kind == KindMessageProcessed {
		return fmt.Sprintf("%s.cases.%s.%s", prefix, e.CaseID, e.Kind)
	}
	return fmt.Sprintf("%s.%s", prefix, e.Kind)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// NATSPublisher publishes events on a core NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := e.Subject(p.prefix)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close()                               {}

// Connect returns a NATS publisher for cfg, or a NoopPublisher when no URL
// is configured.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return NoopPublisher{}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("taskagent"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "disconnected from NATS", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	logger.Info(context.Background(), "connected to NATS", zap.String("url", cfg.NATSURL))
	return NewNATSPublisher(nc, cfg.SubjectPrefix), nil
}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
