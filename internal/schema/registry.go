// Package schema holds the static attribute registry for task types.
//
// Every task type maps to an ordered list of attribute names and the kind
// of value each one carries. Both extractors consult the registry to shape
// their output, and the orchestrator filters attributes through it before
// anything reaches the task store.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskType identifies the kind of task. Values are the wire names used by
// the task store.
type TaskType string

const (
	TypeMeeting  TaskType = "Meeting"
	TypeShopping TaskType = "Shopping"
	TypeWork     TaskType = "Work"
	TypePersonal TaskType = "Personal"
	TypeReminder TaskType = "Reminder"
	TypeDeadline TaskType = "Deadline"
	TypeCall     TaskType = "Call"
	TypeEmail    TaskType = "Email"
	TypeTravel   TaskType = "Travel"
	TypeHealth   TaskType = "Health"
	TypeFinance  TaskType = "Finance"
	TypeLearning TaskType = "Learning"
	TypeOther    TaskType = "Other"
)

// Kind is the expected value kind of an attribute.
type Kind string

const (
	KindString     Kind = "string"
	KindDate       Kind = "date"
	KindNumber     Kind = "number"
	KindStringList Kind = "string-list"
)

// Attribute describes one recognized attribute of a task type.
type Attribute struct {
	Name string
	Kind Kind
}

// Schema is the ordered attribute list of one task type.
type Schema struct {
	Type       TaskType
	Attributes []Attribute
}

// Has reports whether name is a recognized attribute.
func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the attribute definition for name.
func (s Schema) Lookup(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Names returns the attribute names in registry order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		names[i] = a.Name
	}
	return names
}

// registry is ordered; prompt construction and Types() rely on it.
var registry = []Schema{
	{TypeMeeting, []Attribute{
		{"date", KindDate}, {"time", KindString}, {"participants", KindStringList},
		{"location", KindString}, {"agenda", KindString},
	}},
	{TypeShopping, []Attribute{
		{"items", KindStringList}, {"quantity", KindNumber}, {"store", KindString}, {"budget", KindNumber},
	}},
	{TypeWork, []Attribute{
		{"priority", KindString}, {"deadline", KindDate}, {"assignee", KindString}, {"project", KindString},
	}},
	{TypePersonal, []Attribute{
		{"location", KindString}, {"reminder_time", KindString}, {"category", KindString},
	}},
	{TypeReminder, []Attribute{
		{"reminder_date", KindDate}, {"reminder_time", KindString},
	}},
	{TypeDeadline, []Attribute{
		{"due_date", KindDate}, {"priority", KindString},
	}},
	{TypeCall, []Attribute{
		{"contact_person", KindString}, {"phone_number", KindString}, {"purpose", KindString},
	}},
	{TypeEmail, []Attribute{
		{"recipient", KindString}, {"subject", KindString}, {"priority", KindString},
	}},
	{TypeTravel, []Attribute{
		{"destination", KindString}, {"departure_date", KindDate}, {"return_date", KindDate},
		{"booking_needed", KindString},
	}},
	{TypeHealth, []Attribute{
		{"appointment_date", KindDate}, {"doctor", KindString}, {"type", KindString},
	}},
	{TypeFinance, []Attribute{
		{"amount", KindNumber}, {"category", KindString}, {"due_date", KindDate},
	}},
	{TypeLearning, []Attribute{
		{"subject", KindString}, {"duration", KindString}, {"resources", KindStringList},
	}},
	{TypeOther, nil},
}

var index = func() map[TaskType]Schema {
	m := make(map[TaskType]Schema, len(registry))
	for _, s := range registry {
		m[s.Type] = s
	}
	return m
}()

// AttributesFor returns the schema for t. Unknown types resolve to Other,
// which has no attributes.
func AttributesFor(t TaskType) Schema {
	if s, ok := index[t]; ok {
		return s
	}
	return index[TypeOther]
}

// Types returns every registered type in registry order.
func Types() []TaskType {
	types := make([]TaskType, len(registry))
	for i, s := range registry {
		types[i] = s.Type
	}
	return types
}

// ParseType resolves a type name case-insensitively. The boolean is false
// when the name is not registered, in which case Other is returned.
func ParseType(name string) (TaskType, bool) {
	name = strings.TrimSpace(name)
	for _, s := range registry {
		if strings.EqualFold(string(s.Type), name) {
			return s.Type, true
		}
	}
	return TypeOther, false
}

// Filter returns the subset of attrs recognized for t. Unknown keys and
// empty values are dropped; recognized values are normalized to their kind.
func Filter(t TaskType, attrs map[string]any) map[string]any {
	s := AttributesFor(t)
	out := make(map[string]any)
	for k, v := range attrs {
		a, ok := s.Lookup(k)
		if !ok {
			continue
		}
		if nv, ok := normalize(a.Kind, v); ok {
			out[k] = nv
		}
	}
	return out
}

func normalize(kind Kind, v any) (any, bool) {
	switch kind {
	case KindStringList:
		switch val := v.(type) {
		case []string:
			return nonEmpty(val)
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := scalarString(item); ok {
					items = append(items, s)
				}
			}
			return nonEmpty(items)
		default:
			if s, ok := scalarString(v); ok {
				return nonEmpty(strings.Split(s, ","))
			}
			return nil, false
		}
	case KindNumber:
		switch val := v.(type) {
		case float64:
			return val, true
		case int:
			return float64(val), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimLeft(strings.TrimSpace(val), "$€£"), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		default:
			return nil, false
		}
	default:
		s, ok := scalarString(v)
		if !ok || s == "" {
			return nil, false
		}
		return s, true
	}
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case bool:
		return strconv.FormatBool(val), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}

func nonEmpty(items []string) ([]string, bool) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
