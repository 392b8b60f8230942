package orchestrator

import (
	"context"
	"strings"

	"github.com/ravikadam/tasks/internal/extraction"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/ravikadam/tasks/internal/taskstore"
	"go.uber.org/zap"
)

// write is one planned task store call. existing is nil for a create.
type write struct {
	candidate extraction.Candidate
	existing  *taskstore.Task
}

type taskKey struct {
	title string
	typ   schema.TaskType
}

// normalizeTitle lowercases and collapses whitespace.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// reconcile matches candidates against open tasks. Candidates sharing a key
// collapse onto the first one.
func reconcile(candidates []extraction.Candidate, open []taskstore.Task) []write {
	byKey := make(map[taskKey]*taskstore.Task, len(open))
	for i := range open {
		k := taskKey{normalizeTitle(open[i].Title), open[i].Type}
		if _, dup := byKey[k]; !dup {
			byKey[k] = &open[i]
		}
	}

	seen := make(map[taskKey]bool, len(candidates))
	writes := make([]write, 0, len(candidates))
	for _, c := range candidates {
		k := taskKey{normalizeTitle(c.Title), c.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		writes = append(writes, write{candidate: c, existing: byKey[k]})
	}
	return writes
}

// openTasks loads the tasks a message may update. A listing failure is
// recorded as a note and treated as no open tasks.
func (o *Orchestrator) openTasks(ctx context.Context, caseID string, newCase bool, res *Result) []taskstore.Task {
	if newCase {
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.listTasks")
	defer span.End()

	all, err := o.tasks.ListTasks(ctx, caseID, "")
	if err != nil {
		span.RecordError(err)
		o.logger.Warn(ctx, "failed to list open tasks", zap.Error(err))
		res.Notes = append(res.Notes, Note{
			Kind:    NoteTaskListFailure,
			Message: "existing tasks could not be loaded; all tasks were created as new",
		})
		return nil
	}

	open := make([]taskstore.Task, 0, len(all))
	for _, t := range all {
		if t.Status.Open() {
			open = append(open, t)
		}
	}
	return open
}

// writeTasks issues the planned writes in order. Each failure becomes a
// note and the loop moves on.
func (o *Orchestrator) writeTasks(ctx context.Context, caseID string, writes []write, res *Result) {
	if len(writes) == 0 {
		return
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.writeTasks")
	defer span.End()

	for _, w := range writes {
		c := w.candidate
		if err := ctx.Err(); err != nil {
			taskWritesTotal.WithLabelValues(opName(w), "skipped").Inc()
			res.Notes = append(res.Notes, Note{
				Kind:    NoteTaskWriteFailure,
				Title:   c.Title,
				Message: "not saved: request deadline exceeded",
			})
			continue
		}

		if w.existing != nil {
			o.updateTask(ctx, w, res)
			continue
		}

		task, err := o.tasks.CreateTask(ctx, caseID, taskstore.NewTask{
			Title:       c.Title,
			Description: c.Description,
			Type:        c.Type,
			Priority:    c.Priority,
			DueDate:     c.DueDate,
			Attributes:  c.Attributes,
		})
		if err != nil {
			o.writeFailed(ctx, w, err, res)
			continue
		}
		taskWritesTotal.WithLabelValues("create", "ok").Inc()
		res.TasksCreated = append(res.TasksCreated, task.ID)
		res.ActionsTaken = append(res.ActionsTaken, actionCreated+c.Title)
	}
}

func (o *Orchestrator) updateTask(ctx context.Context, w write, res *Result) {
	c := w.candidate
	description := c.Description
	priority := c.Priority

	u := taskstore.Update{
		Description: &description,
		Priority:    &priority,
		DueDate:     c.DueDate,
	}
	if len(c.Attributes) > 0 {
		u.Attributes = c.Attributes
	}

	_, err := o.tasks.UpdateTask(ctx, w.existing.ID, w.existing.Type, u)
	if err != nil {
		o.writeFailed(ctx, w, err, res)
		return
	}
	taskWritesTotal.WithLabelValues("update", "ok").Inc()
	res.TasksUpdated = append(res.TasksUpdated, w.existing.ID)
	res.ActionsTaken = append(res.ActionsTaken, actionUpdated+w.existing.Title)
}

func (o *Orchestrator) writeFailed(ctx context.Context, w write, err error, res *Result) {
	op := opName(w)
	taskWritesTotal.WithLabelValues(op, "error").Inc()
	o.logger.Warn(ctx, "task write failed",
		zap.String("op", op),
		zap.String("task_type", string(w.candidate.Type)),
		zap.Error(err))
	res.Notes = append(res.Notes, Note{
		Kind:    NoteTaskWriteFailure,
		Title:   w.candidate.Title,
		Message: "not saved: " + op + " failed",
	})
}

func opName(w write) string {
	if w.existing != nil {
		return "update"
	}
	return "create"
}
