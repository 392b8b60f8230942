package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ravikadam/tasks/internal/casestore"
	"github.com/ravikadam/tasks/internal/events"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/ravikadam/tasks/internal/taskstore"
)

var errDown = errors.New("connection refused")

// Wednesday.
var fixedNow = time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeCases struct {
	mu          sync.Mutex
	cases       map[string]*casestore.Case
	created     []casestore.NewCase
	entries     []casestore.Entry
	transitions []casestore.Status

	createErr      error
	getErr         error
	userAppendErr  error
	agentAppendErr error
	stateErr       error
}

func newFakeCases(existing ...casestore.Case) *fakeCases {
	f := &fakeCases{cases: make(map[string]*casestore.Case)}
	for i := range existing {
		c := existing[i]
		f.cases[c.ID] = &c
	}
	return f
}

func (f *fakeCases) CreateCase(_ context.Context, nc casestore.NewCase) (*casestore.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, nc)
	c := &casestore.Case{
		ID:       fmt.Sprintf("case-%d", len(f.created)),
		Title:    nc.Title,
		Status:   casestore.StatusOpen,
		Priority: nc.Priority,
	}
	f.cases[c.ID] = c
	return c, nil
}

func (f *fakeCases) GetCase(_ context.Context, id string) (*casestore.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.cases[id]
	if !ok {
		return nil, fmt.Errorf("get case %s: %w", id, casestore.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCases) AppendEntry(_ context.Context, e casestore.Entry) (*casestore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Sender == casestore.SenderUser && f.userAppendErr != nil {
		return nil, f.userAppendErr
	}
	if e.Sender == casestore.SenderAgent && f.agentAppendErr != nil {
		return nil, f.agentAppendErr
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeCases) UpdateState(_ context.Context, id string, status casestore.Status) (*casestore.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	f.transitions = append(f.transitions, status)
	c := f.cases[id]
	c.Status = status
	cp := *c
	return &cp, nil
}

func (f *fakeCases) entriesBy(sender casestore.Sender) []casestore.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []casestore.Entry
	for _, e := range f.entries {
		if e.Sender == sender {
			out = append(out, e)
		}
	}
	return out
}

type fakeTasks struct {
	mu      sync.Mutex
	tasks   []taskstore.Task
	created []taskstore.NewTask
	updated map[string]taskstore.Update

	listErr   error
	failTitle string
	block     bool
}

func newFakeTasks(existing ...taskstore.Task) *fakeTasks {
	return &fakeTasks{tasks: existing, updated: make(map[string]taskstore.Update)}
}

func (f *fakeTasks) CreateTask(ctx context.Context, caseID string, nt taskstore.NewTask) (*taskstore.Task, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if nt.Title == f.failTitle {
		return nil, errDown
	}
	f.created = append(f.created, nt)
	t := taskstore.Task{
		ID:         fmt.Sprintf("task-%d", len(f.tasks)+1),
		CaseID:     caseID,
		Title:      nt.Title,
		Type:       nt.Type,
		Status:     taskstore.StatusPending,
		Priority:   nt.Priority,
		Attributes: schema.Filter(nt.Type, nt.Attributes),
	}
	f.tasks = append(f.tasks, t)
	return &t, nil
}

func (f *fakeTasks) UpdateTask(_ context.Context, id string, _ schema.TaskType, u taskstore.Update) (*taskstore.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.updated[id] = u
			return &f.tasks[i], nil
		}
	}
	return nil, taskstore.ErrNotFound
}

func (f *fakeTasks) ListTasks(_ context.Context, caseID string, _ taskstore.Status) ([]taskstore.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []taskstore.Task
	for _, t := range f.tasks {
		if t.CaseID == caseID {
			out = append(out, t)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		kinds[i] = e.Kind
	}
	return kinds
}
