package orchestrator

import (
	"fmt"
	"strings"
)

const (
	replyNoTasks  = "I've noted your message. How can I help you further?"
	replyOneTask  = "I've created a task for you: '%s'. Is there anything else you need help with?"
	replyNTasks   = "I've created %d tasks based on your message. They include: %s. Let me know if you need any adjustments!"
	replyUpdated  = "I've updated %s: %s. Is there anything else you need help with?"
	replyAlsoUpd  = " I've also updated %s: %s."
	replyPartial  = " Some tasks could not be saved; please try again."
	actionCreated = "Created task: "
	actionUpdated = "Updated task: "
)

// composeResponse renders the reply from the actions already recorded.
func composeResponse(res *Result) string {
	created := titlesWithPrefix(res.ActionsTaken, actionCreated)
	updated := titlesWithPrefix(res.ActionsTaken, actionUpdated)

	var reply string
	switch {
	case len(created) == 0 && len(updated) > 0:
		reply = fmt.Sprintf(replyUpdated, taskCount(len(updated)), strings.Join(updated, ", "))
	case len(created) == 0:
		reply = replyNoTasks
	case len(created) == 1:
		reply = fmt.Sprintf(replyOneTask, created[0])
	default:
		reply = fmt.Sprintf(replyNTasks, len(created), strings.Join(created, ", "))
	}

	if len(created) > 0 && len(updated) > 0 {
		reply += fmt.Sprintf(replyAlsoUpd, taskCount(len(updated)), strings.Join(updated, ", "))
	}
	if res.HasTaskWriteFailure() {
		reply += replyPartial
	}
	return reply
}

func titlesWithPrefix(actions []string, prefix string) []string {
	var titles []string
	for _, a := range actions {
		if title, ok := strings.CutPrefix(a, prefix); ok {
			titles = append(titles, title)
		}
	}
	return titles
}

func taskCount(n int) string {
	if n == 1 {
		return "1 existing task"
	}
	return fmt.Sprintf("%d existing tasks", n)
}
