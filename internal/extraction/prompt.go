package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/ravikadam/tasks/internal/schema"
)

const systemPrompt = `You extract actionable tasks from user messages for a task tracking system.
Return only JSON, with no prose and no code fences.`

// buildPrompt renders the user prompt: the known types with their
// attribute schemas, the expected output shape, and the message.
func buildPrompt(text string, now time.Time) string {
	var b strings.Builder

	b.WriteString("Extract zero or more tasks from the message below.\n\n")
	b.WriteString("Each task has a type from this list. Attributes must use only the names listed for that type:\n")
	for _, t := range schema.Types() {
		s := schema.AttributesFor(t)
		if len(s.Attributes) == 0 {
			fmt.Fprintf(&b, "- %s: (no attributes)\n", t)
			continue
		}
		parts := make([]string, len(s.Attributes))
		for i, a := range s.Attributes {
			parts[i] = fmt.Sprintf("%s (%s)", a.Name, a.Kind)
		}
		fmt.Fprintf(&b, "- %s: %s\n", t, strings.Join(parts, ", "))
	}

	b.WriteString(`
Respond with a JSON object of this shape:
{"tasks": [{"type": "<type>", "title": "<short imperative title>", "description": "<one sentence>",
  "attributes": {"<name>": <value>}, "priority": "Low|Medium|High|Critical",
  "due_date": "YYYY-MM-DD", "confidence": <0.0-1.0>}]}

Rules:
- Dates are YYYY-MM-DD. string-list values are JSON arrays of strings. number values are JSON numbers.
- Omit attributes you cannot find; never use null.
- Omit due_date when no date is implied.
- Return {"tasks": []} when the message contains no actionable request.
`)
	fmt.Fprintf(&b, "\nToday is %s (%s).\n\nMessage:\n%s\n", now.Format("2006-01-02"), now.Weekday(), text)

	return b.String()
}
