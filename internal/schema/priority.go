package schema

import (
	"regexp"
	"strings"
)

// Priority is the urgency shared by cases and tasks.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ParsePriority resolves a priority name case-insensitively.
func ParsePriority(name string) (Priority, bool) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		if strings.EqualFold(string(p), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return PriorityMedium, false
}

// Checked in order; the first table with a hit wins.
var priorityWords = []struct {
	re       *regexp.Regexp
	priority Priority
}{
	{regexp.MustCompile(`(?i)\b(urgent|urgently|asap|immediately)\b`), PriorityCritical},
	{regexp.MustCompile(`(?i)\b(important|priority)\b`), PriorityHigh},
	{regexp.MustCompile(`(?i)\b(when you can|no rush)\b`), PriorityLow},
}

// InferPriority maps urgency words in text to a priority, Medium when none
// are present.
func InferPriority(text string) Priority {
	for _, w := range priorityWords {
		if w.re.MatchString(text) {
			return w.priority
		}
	}
	return PriorityMedium
}
