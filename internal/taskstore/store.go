// Package taskstore is the client for the task management service.
package taskstore

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

// ErrNotFound is returned when the task does not exist.
var ErrNotFound = errors.New("task not found")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusOnHold     Status = "OnHold"
)

// Open reports whether a task can still receive updates from new messages.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusOnHold:
		return true
	default:
		return false
	}
}

// Task is a task as stored by the task service.
type Task struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"case_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Type        schema.TaskType `json:"task_type"`
	Status      Status          `json:"status"`
	Priority    schema.Priority `json:"priority"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTask is the payload for CreateTask.
type NewTask struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Type        schema.TaskType `json:"task_type"`
	Priority    schema.Priority `json:"priority"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty"`
}

// Update is the payload for UpdateTask. Nil fields are left unchanged.
type Update struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Priority    *schema.Priority `json:"priority,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Attributes  map[string]any   `json:"attributes,omitempty"`
}

// Store talks to the task service.
type Store struct {
	client *upstream.Client
}

// New creates a task store client.
func New(cfg config.StoreConfig, logger *logging.Logger) *Store {
	return &Store{client: upstream.New("tasks", cfg, logger)}
}

// CreateTask creates a task under caseID. Attributes are filtered through
// the schema registry before they are sent.
func (s *Store) CreateTask(ctx context.Context, caseID string, nt NewTask) (*Task, error) {
	nt.Attributes = schema.Filter(nt.Type, nt.Attributes)
	var t Task
	if err := s.client.Do(ctx, http.MethodPost, caseTasksPath(caseID), nil, nt, &t); err != nil {
		return nil, fmt.Errorf("create task in case %s: %w", caseID, err)
	}
	return &t, nil
}

// UpdateTask applies u to a task of type t. An unknown id returns
// ErrNotFound.
func (s *Store) UpdateTask(ctx context.Context, id string, t schema.TaskType, u Update) (*Task, error) {
	if u.Attributes != nil {
		u.Attributes = schema.Filter(t, u.Attributes)
	}
	var out Task
	err := s.client.Do(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(id), nil, u, &out)
	if upstream.IsStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return &out, nil
}

// ListTasks returns the tasks of a case, filtered by status when one is
// given.
func (s *Store) ListTasks(ctx context.Context, caseID string, status Status) ([]Task, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": {string(status)}}
	}
	var tasks []Task
	if err := s.client.Do(ctx, http.MethodGet, caseTasksPath(caseID), query, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks for case %s: %w", caseID, err)
	}
	return tasks, nil
}

func caseTasksPath(caseID string) string {
	return "/api/v1/cases/" + url.PathEscape(caseID) + "/tasks"
}
