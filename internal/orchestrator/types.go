package orchestrator

import (
	"context"
	"fmt"

	"github.com/ravikadam/tasks/internal/casestore"
	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/ravikadam/tasks/internal/taskstore"
)

// Channel is the inbound channel a message arrived on.
type Channel string

const (
	ChannelBot     Channel = "Bot"
	ChannelEmail   Channel = "Email"
	ChannelWebChat Channel = "WebChat"
	ChannelAPI     Channel = "API"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelBot, ChannelEmail, ChannelWebChat, ChannelAPI:
		return true
	default:
		return false
	}
}

// Request is one inbound message. CaseID is empty for a new conversation.
type Request struct {
	Message  string
	SenderID string
	Channel  Channel
	CaseID   string
}

// NoteKind classifies a partial failure.
type NoteKind string

const (
	NoteTaskWriteFailure  NoteKind = "task_write_failure"
	NoteTaskListFailure   NoteKind = "task_list_failure"
	NoteCaseReopenFailure NoteKind = "case_reopen_failure"
)

// Note records a non-fatal failure.
type Note struct {
	Kind    NoteKind `json:"kind"`
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message"`
}

// Result is the outcome of Process.
type Result struct {
	CaseID       string            `json:"case_id"`
	Response     string            `json:"response"`
	ActionsTaken []string          `json:"actions_taken"`
	TasksCreated []string          `json:"tasks_created"`
	TasksUpdated []string          `json:"tasks_updated"`
	Notes        []Note            `json:"notes,omitempty"`
	Source       extraction.Source `json:"-"`
}

// HasTaskWriteFailure reports whether any candidate failed to persist.
func (r *Result) HasTaskWriteFailure() bool {
	for _, n := range r.Notes {
		if n.Kind == NoteTaskWriteFailure {
			return true
		}
	}
	return false
}

// ErrorKind classifies a fatal Process failure.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindCaseNotFound        ErrorKind = "case_not_found"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
)

// Error is returned by Process for every fatal failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CaseStore is the subset of the case service the orchestrator uses.
type CaseStore interface {
	CreateCase(ctx context.Context, nc casestore.NewCase) (*casestore.Case, error)
	GetCase(ctx context.Context, id string) (*casestore.Case, error)
	AppendEntry(ctx context.Context, e casestore.Entry) (*casestore.Entry, error)
	UpdateState(ctx context.Context, id string, status casestore.Status) (*casestore.Case, error)
}

// TaskStore is the subset of the task service the orchestrator uses.
type TaskStore interface {
	CreateTask(ctx context.Context, caseID string, nt taskstore.NewTask) (*taskstore.Task, error)
	UpdateTask(ctx context.Context, id string, t schema.TaskType, u taskstore.Update) (*taskstore.Task, error)
	ListTasks(ctx context.Context, caseID string, status taskstore.Status) ([]taskstore.Task, error)
}

// Extractor produces candidates and never fails.
type Extractor interface {
	Extract(ctx context.Context, text string) extraction.Result
}

var (
	_ CaseStore = (*casestore.Store)(nil)
	_ TaskStore = (*taskstore.Store)(nil)
	_ Extractor = (*extraction.Facade)(nil)
)
