package extraction

import (
	"strings"
	"time"

	"github.com/ravikadam/tasks/internal/schema"
	"github.com/tidwall/gjson"
)

const (
	defaultModelConfidence = 0.7
	unknownTypePenalty     = 0.5
)

// parseCandidates validates a completion and converts it to candidates.
// The payload may be a top-level array or an object with a "tasks" array,
// optionally wrapped in a markdown code fence.
func parseCandidates(raw string, loc *time.Location) ([]Candidate, error) {
	payload := locateJSON(stripFences(raw))
	if payload == "" || !gjson.Valid(payload) {
		return nil, malformed("response is not valid JSON")
	}

	root := gjson.Parse(payload)
	if root.IsObject() {
		root = root.Get("tasks")
	}
	if !root.IsArray() {
		return nil, malformed("response does not contain a task list")
	}

	elements := root.Array()
	candidates := make([]Candidate, 0, len(elements))
	for i, el := range elements {
		if !el.IsObject() {
			return nil, malformed("task %d is not an object", i)
		}
		title := strings.TrimSpace(el.Get("title").String())
		if title == "" {
			return nil, malformed("task %d has no title", i)
		}

		typeName := el.Get("type").String()
		if typeName == "" {
			typeName = el.Get("task_type").String()
		}
		taskType, known := schema.ParseType(typeName)

		confidence := defaultModelConfidence
		if c := el.Get("confidence"); c.Type == gjson.Number {
			confidence = c.Float()
		}
		if confidence <= 0 {
			confidence = defaultModelConfidence
		}
		if confidence > 1 {
			confidence = 1
		}
		if !known {
			confidence *= unknownTypePenalty
		}

		description := strings.TrimSpace(el.Get("description").String())
		if description == "" {
			description = title
		}

		var attrs map[string]any
		if a := el.Get("attributes"); a.IsObject() {
			attrs, _ = a.Value().(map[string]any)
		}

		priority, ok := schema.ParsePriority(el.Get("priority").String())
		if !ok {
			priority = schema.InferPriority(title + " " + description)
		}

		candidates = append(candidates, Candidate{
			Title:       title,
			Type:        taskType,
			Description: description,
			Attributes:  schema.Filter(taskType, attrs),
			Priority:    priority,
			DueDate:     parseDueDate(el.Get("due_date").String(), loc),
			Source:      SourceModel,
			Confidence:  confidence,
		})
	}
	return candidates, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// locateJSON trims prose around the outermost array or object.
func locateJSON(s string) string {
	if gjson.Valid(s) {
		return s
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

func parseDueDate(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
