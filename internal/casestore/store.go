// Package casestore is the client for the case management service.
package casestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/ravikadam/tasks/internal/upstream"
)

var (
	// ErrNotFound is returned when the case does not exist.
	ErrNotFound = errors.New("case not found")
	// ErrConflict is returned when a write still conflicts after one retry.
	ErrConflict = errors.New("case version conflict")
)

// Status is the lifecycle state of a case.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusWaiting    Status = "Waiting"
	StatusResolved   Status = "Resolved"
	StatusClosed     Status = "Closed"
)

// Finished reports whether the case was resolved or closed.
func (s Status) Finished() bool {
	return s == StatusResolved || s == StatusClosed
}

// Sender identifies who wrote a conversation entry. System only appears on
// entries written by other services.
type Sender string

const (
	SenderUser   Sender = "User"
	SenderAgent  Sender = "Agent"
	SenderSystem Sender = "System"
)

// Case is a conversational case as stored by the case service.
type Case struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      Status          `json:"status"`
	Priority    schema.Priority `json:"priority"`
	AssignedTo  *string         `json:"assigned_to,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewCase is the payload for CreateCase.
type NewCase struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    schema.Priority `json:"priority"`
	AssignedTo  *string         `json:"assigned_to,omitempty"`
}

// Entry is one append-only conversation entry.
type Entry struct {
	ID        string         `json:"id,omitempty"`
	CaseID    string         `json:"case_id"`
	Message   string         `json:"message"`
	Sender    Sender         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Store talks to the case service.
type Store struct {
	client *upstream.Client
}

// New creates a case store client.
func New(cfg config.StoreConfig, logger *logging.Logger) *Store {
	return &Store{client: upstream.New("cases", cfg, logger)}
}

// CreateCase creates a case. The case service assigns it the Open status.
func (s *Store) CreateCase(ctx context.Context, nc NewCase) (*Case, error) {
	var c Case
	if err := s.doRetryConflict(ctx, http.MethodPost, "/api/v1/cases", nc, &c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	return &c, nil
}

// GetCase fetches a case. An unknown id returns ErrNotFound.
func (s *Store) GetCase(ctx context.Context, id string) (*Case, error) {
	var c Case
	err := s.client.Do(ctx, http.MethodGet, casePath(id), nil, nil, &c)
	if upstream.IsStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("get case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", id, err)
	}
	return &c, nil
}

// AppendEntry adds a conversation entry to a case. A 409 conflict is
// retried once.
func (s *Store) AppendEntry(ctx context.Context, e Entry) (*Entry, error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	var out Entry
	if err := s.doRetryConflict(ctx, http.MethodPost, casePath(e.CaseID)+"/history", e, &out); err != nil {
		return nil, fmt.Errorf("append entry to case %s: %w", e.CaseID, err)
	}
	return &out, nil
}

type stateUpdate struct {
	Status Status `json:"status"`
}

// UpdateState moves a case to status. A 409 conflict is retried once.
func (s *Store) UpdateState(ctx context.Context, id string, status Status) (*Case, error) {
	var c Case
	err := s.doRetryConflict(ctx, http.MethodPut, casePath(id)+"/state", stateUpdate{Status: status}, &c)
	if upstream.IsStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("update case %s state: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update case %s state: %w", id, err)
	}
	return &c, nil
}

// doRetryConflict performs one write and repeats it once on 409. A second
// conflict is reported as ErrConflict alongside the status error.
func (s *Store) doRetryConflict(ctx context.Context, method, path string, body, out any) error {
	err := s.client.Do(ctx, method, path, nil, body, out)
	if !upstream.IsStatus(err, http.StatusConflict) {
		return err
	}
	err = s.client.Do(ctx, method, path, nil, body, out)
	if upstream.IsStatus(err, http.StatusConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func casePath(id string) string {
	return "/api/v1/cases/" + url.PathEscape(id)
}
