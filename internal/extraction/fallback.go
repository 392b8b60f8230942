package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ravikadam/tasks/internal/schema"
)

const (
	maxTitleRunes = 50
	titleKeep     = maxTitleRunes - 3
)

// Clause separators are an approximation: "and" inside a name or item list
// also splits.
var (
	clauseSep = regexp.MustCompile(`(?i)\s*(?:[,;\n]|\band\b|\bthen\b|[.!?](?:\s+|$))\s*`)
	hasLetter = regexp.MustCompile(`\pL`)
	filler    = regexp.MustCompile(`(?i)^(?:(?:i need to|i have to|i must|i should|please|can you|could you|remember to|don't forget to|do not forget to|also)\s+)+`)
)

// Classifiers run in order; the first match wins.
var (
	callRe     = regexp.MustCompile(`(?i)\b(?:call|phone|ring)\b`)
	shoppingRe = regexp.MustCompile(`(?i)\b(?:buy|shopping|grocery|groceries|purchase)\b`)
	meetingRe  = regexp.MustCompile(`(?i)\b(?:meet|meeting)\b|\bappointment with\b`)
)

var (
	contactRe      = regexp.MustCompile(`\b(?i:call|phone|ring)\s+((?:[A-Z][\pL'-]*\s*)+)`)
	phoneRe        = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	itemsRe        = regexp.MustCompile(`(?i)\b(?:buy|purchase|get|pick up)\s+(.+)$`)
	itemsStopRe    = regexp.MustCompile(`(?i)\s+(?:for|at|on|by|from|today|tonight|tomorrow|next|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b.*$`)
	articleRe      = regexp.MustCompile(`(?i)^(?:some|the|a|an)\s+`)
	budgetRe       = regexp.MustCompile(`(?i)[$€£]\s?(\d+(?:\.\d{1,2})?)|(\d+(?:\.\d{1,2})?)\s?(?:dollars|usd|euros?|pounds)\b`)
	participantsRe = regexp.MustCompile(`\b(?i:with)\s+((?:[A-Z][\pL'-]*\s*)+)`)
	atRe           = regexp.MustCompile(`(?i)\bat\s+`)
	locationStopRe = regexp.MustCompile(`(?i)\s+(?:at|on|by|today|tonight|tomorrow|next|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b.*$`)
)

var (
	clockRe    = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):([0-5]\d)\s*(am|pm)?\b`)
	meridiemRe = regexp.MustCompile(`(?i)\b(1[0-2]|0?[1-9])\s*(am|pm)\b`)
	leadTimeRe = regexp.MustCompile(`(?i)^(?:\d{1,2}(?::\d{2})?\s*(?:am|pm)?|noon|midnight)\b`)
)

var (
	isoDateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	tomorrowRe = regexp.MustCompile(`(?i)\btomorrow\b`)
	todayRe    = regexp.MustCompile(`(?i)\b(?:today|tonight)\b`)
	nextWeekRe = regexp.MustCompile(`(?i)\bnext week\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// dateWords are capitalized tokens that end a name.
var dateWords = map[string]bool{
	"today": true, "tonight": true, "tomorrow": true, "next": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"at": true, "on": true, "by": true,
}

// FallbackExtractor is a rule-based extractor. It makes no external calls
// and its output depends only on the text and the clock.
type FallbackExtractor struct {
	now func() time.Time
}

// NewFallbackExtractor creates a fallback extractor. A nil clock uses
// time.Now.
func NewFallbackExtractor(now func() time.Time) *FallbackExtractor {
	if now == nil {
		now = time.Now
	}
	return &FallbackExtractor{now: now}
}

// Extract implements Extractor. It never returns an error.
func (f *FallbackExtractor) Extract(_ context.Context, text string) ([]Candidate, error) {
	return f.extract(text), nil
}

func (f *FallbackExtractor) extract(text string) []Candidate {
	now := f.now()
	messagePriority := schema.InferPriority(text)

	candidates := make([]Candidate, 0)
	for _, clause := range splitClauses(text) {
		taskType := classifyClause(clause, now)

		priority := schema.InferPriority(clause)
		if priority == schema.PriorityMedium {
			priority = messagePriority
		}

		c := Candidate{
			Title:       fallbackTitle(clause),
			Type:        taskType,
			Description: clause,
			Attributes:  schema.Filter(taskType, fallbackAttributes(taskType, clause, now)),
			Priority:    priority,
			Source:      SourceFallback,
			Confidence:  FallbackConfidence,
		}
		if due, ok := resolveDate(clause, now); ok {
			c.DueDate = &due
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func splitClauses(text string) []string {
	var clauses []string
	for _, part := range clauseSep.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" || !hasLetter.MatchString(part) {
			continue
		}
		clauses = append(clauses, part)
	}
	return clauses
}

func classifyClause(clause string, now time.Time) schema.TaskType {
	switch {
	case callRe.MatchString(clause):
		return schema.TypeCall
	case shoppingRe.MatchString(clause):
		return schema.TypeShopping
	case meetingRe.MatchString(clause):
		return schema.TypeMeeting
	}
	if _, ok := resolveDate(clause, now); ok {
		return schema.TypeReminder
	}
	if _, ok := resolveTime(clause); ok {
		return schema.TypeReminder
	}
	return schema.TypeOther
}

func fallbackAttributes(t schema.TaskType, clause string, now time.Time) map[string]any {
	attrs := make(map[string]any)
	switch t {
	case schema.TypeCall:
		if m := contactRe.FindStringSubmatch(clause); m != nil {
			if name := properNames(m[1]); len(name) > 0 {
				attrs["contact_person"] = strings.Join(name, " ")
			}
		}
		if phone := phoneNumber(clause); phone != "" {
			attrs["phone_number"] = phone
		}
	case schema.TypeShopping:
		if m := itemsRe.FindStringSubmatch(clause); m != nil {
			item := itemsStopRe.ReplaceAllString(m[1], "")
			item = articleRe.ReplaceAllString(strings.TrimSpace(item), "")
			if item != "" {
				attrs["items"] = []string{item}
			}
		}
		if m := budgetRe.FindStringSubmatch(clause); m != nil {
			amount := m[1]
			if amount == "" {
				amount = m[2]
			}
			if v, err := strconv.ParseFloat(amount, 64); err == nil {
				attrs["budget"] = v
			}
		}
	case schema.TypeMeeting:
		if m := participantsRe.FindStringSubmatch(clause); m != nil {
			if names := properNames(m[1]); len(names) > 0 {
				attrs["participants"] = names
			}
		}
		if d, ok := resolveDate(clause, now); ok {
			attrs["date"] = d.Format(time.DateOnly)
		}
		if tm, ok := resolveTime(clause); ok {
			attrs["time"] = tm
		}
		if loc := location(clause); loc != "" {
			attrs["location"] = loc
		}
	case schema.TypeReminder:
		if d, ok := resolveDate(clause, now); ok {
			attrs["reminder_date"] = d.Format(time.DateOnly)
		}
		if tm, ok := resolveTime(clause); ok {
			attrs["reminder_time"] = tm
		}
	}
	return attrs
}

// properNames returns the leading capitalized words of s, stopping at the
// first date word.
func properNames(s string) []string {
	var names []string
	for _, w := range strings.Fields(s) {
		if dateWords[strings.ToLower(w)] {
			break
		}
		names = append(names, w)
	}
	return names
}

// phoneNumber returns the first digit run with at least seven digits that
// is not an ISO date.
func phoneNumber(clause string) string {
	for _, m := range phoneRe.FindAllString(clause, -1) {
		m = strings.TrimSpace(m)
		if isoDateRe.MatchString(m) {
			continue
		}
		digits := 0
		for _, r := range m {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		if digits >= 7 {
			return m
		}
	}
	return ""
}

// location returns the text after the first " at " that is not a time.
func location(clause string) string {
	for _, idx := range atRe.FindAllStringIndex(clause, -1) {
		rest := clause[idx[1]:]
		if leadTimeRe.MatchString(rest) {
			continue
		}
		rest = strings.TrimSpace(locationStopRe.ReplaceAllString(rest, ""))
		if rest != "" {
			return rest
		}
	}
	return ""
}

// resolveDate applies the date table to clause. Checked in order: ISO
// date, tomorrow, today, next week, weekday name.
func resolveDate(clause string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := isoDateRe.FindStringSubmatch(clause); m != nil {
		if d, err := time.ParseInLocation(time.DateOnly, m[1], now.Location()); err == nil {
			return d, true
		}
	}
	switch {
	case tomorrowRe.MatchString(clause):
		return today.AddDate(0, 0, 1), true
	case todayRe.MatchString(clause):
		return today, true
	case nextWeekRe.MatchString(clause):
		return today.AddDate(0, 0, 7), true
	}
	if m := weekdayRe.FindStringSubmatch(clause); m != nil {
		target := weekdays[strings.ToLower(m[1])]
		days := (int(target) - int(today.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days), true
	}
	return time.Time{}, false
}

// resolveTime returns the first clock time in clause as 24h HH:MM.
func resolveTime(clause string) (string, bool) {
	if m := clockRe.FindStringSubmatch(clause); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return formatClock(to24(h, m[3]), mins), true
	}
	if m := meridiemRe.FindStringSubmatch(clause); m != nil {
		h, _ := strconv.Atoi(m[1])
		return formatClock(to24(h, m[2]), 0), true
	}
	return "", false
}

func to24(h int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "am":
		if h == 12 {
			return 0
		}
	case "pm":
		if h < 12 {
			return h + 12
		}
	}
	return h
}

func formatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}

// fallbackTitle strips leading filler, capitalizes and truncates.
func fallbackTitle(clause string) string {
	title := strings.TrimSpace(filler.ReplaceAllString(clause, ""))
	if title == "" {
		title = clause
	}
	r, size := utf8.DecodeRuneInString(title)
	title = string(unicode.ToUpper(r)) + title[size:]
	return truncateTitle(title)
}

// truncateTitle cuts s to 50 runes, marking the cut with "...".
func truncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:titleKeep]) + "..."
}

var _ Extractor = (*FallbackExtractor)(nil)
