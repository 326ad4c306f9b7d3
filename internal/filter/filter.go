package filter

import (
	"fmt"

	"github.com/google/uuid"

	"sleepcal/internal/model"
	"sleepcal/internal/textmatch"
)

// Field selects which event attribute an EventFilter inspects.
type Field string

const (
	FieldEventName    Field = "event_name"
	FieldCalendarName Field = "calendar_name"
)

// Operator is the comparison an EventFilter applies.
type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
)

// EventFilter pre-filters calendar events before rule matching.
type EventFilter struct {
	ID    string   `yaml:"id" json:"id"`
	Field Field    `yaml:"field" json:"field"`
	Op    Operator `yaml:"op" json:"op"`
	Value string   `yaml:"value" json:"value"`
}

// New returns a filter with a fresh ID.
func New(field Field, op Operator, value string) EventFilter {
	return EventFilter{ID: uuid.NewString(), Field: field, Op: op, Value: value}
}

// Matches reports whether an event passes the filter. An empty Value always
// passes so a half-entered filter never hides every event.
func (f EventFilter) Matches(title, calendarName string) bool {
	if f.Value == "" {
		return true
	}

	subject := title
	if f.Field == FieldCalendarName {
		subject = calendarName
	}

	switch f.Op {
	case OpContains:
		return textmatch.Contains(subject, f.Value)
	case OpNotContains:
		return !textmatch.Contains(subject, f.Value)
	case OpEquals:
		return textmatch.Equal(subject, f.Value)
	case OpNotEquals:
		return !textmatch.Equal(subject, f.Value)
	default:
		return true
	}
}

// Validate rejects unknown fields and operators.
func (f EventFilter) Validate() error {
	switch f.Field {
	case FieldEventName, FieldCalendarName:
	default:
		return fmt.Errorf("filter %s: unknown field %q", f.ID, f.Field)
	}
	switch f.Op {
	case OpContains, OpNotContains, OpEquals, OpNotEquals:
	default:
		return fmt.Errorf("filter %s: unknown operator %q", f.ID, f.Op)
	}
	return nil
}

// Passes reports whether ev satisfies every filter.
func Passes(filters []EventFilter, ev model.Event) bool {
	for _, f := range filters {
		if !f.Matches(ev.Title, ev.CalendarName) {
			return false
		}
	}
	return true
}

// Apply returns the events that pass every filter, in input order.
func Apply(filters []EventFilter, events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if Passes(filters, ev) {
			out = append(out, ev)
		}
	}
	return out
}
