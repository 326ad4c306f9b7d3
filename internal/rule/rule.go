package rule

import (
	"fmt"

	"github.com/google/uuid"

	"sleepcal/internal/textmatch"
)

// Field selects the event attribute a Condition inspects.
type Field string

const (
	FieldEventName Field = "event_name"
	FieldLocation  Field = "location"
)

// Operator is the comparison a Condition applies.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpContains  Operator = "contains"
	OpNotEquals Operator = "not_equals"
)

// Logic combines the results of a rule's conditions.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Condition is a single case-insensitive predicate over an event.
type Condition struct {
	Field Field    `yaml:"field" json:"field"`
	Op    Operator `yaml:"op" json:"op"`
	Value string   `yaml:"value" json:"value"`
}

// Evaluate applies the condition to an event. An absent location is "".
// Unknown fields or operators never match.
func (c Condition) Evaluate(title, location string) bool {
	var target string
	switch c.Field {
	case FieldEventName:
		target = title
	case FieldLocation:
		target = location
	default:
		return false
	}

	switch c.Op {
	case OpEquals:
		return textmatch.Equal(target, c.Value)
	case OpContains:
		return textmatch.Contains(target, c.Value)
	case OpNotEquals:
		return !textmatch.Equal(target, c.Value)
	default:
		return false
	}
}

// EventRule binds a calendar and a set of conditions to a wake offset: when an
// event in CalendarID satisfies the conditions, the sleeper must be awake
// WakeOffsetMinutes before it starts.
type EventRule struct {
	ID                string      `yaml:"id" json:"id"`
	Name              string      `yaml:"name" json:"name"`
	CalendarID        string      `yaml:"calendar_id" json:"calendar_id"`
	Conditions        []Condition `yaml:"conditions" json:"conditions"`
	Logic             Logic       `yaml:"logic" json:"logic"`
	WakeOffsetMinutes int         `yaml:"wake_offset_minutes" json:"wake_offset_minutes"`
	Enabled           bool        `yaml:"enabled" json:"enabled"`
}

// New returns an enabled AND rule with a fresh ID.
func New(name, calendarID string, wakeOffsetMinutes int, conds ...Condition) EventRule {
	return EventRule{
		ID:                uuid.NewString(),
		Name:              name,
		CalendarID:        calendarID,
		Conditions:        conds,
		Logic:             LogicAnd,
		WakeOffsetMinutes: wakeOffsetMinutes,
		Enabled:           true,
	}
}

// Matches reports whether an event with the given title and location
// satisfies the rule's conditions.
//
// A rule without conditions matches nothing, whatever its logic.
func (r EventRule) Matches(title, location string) bool {
	if len(r.Conditions) == 0 {
		return false
	}

	switch r.Logic {
	case LogicOr:
		for _, c := range r.Conditions {
			if c.Evaluate(title, location) {
				return true
			}
		}
		return false
	default:
		for _, c := range r.Conditions {
			if !c.Evaluate(title, location) {
				return false
			}
		}
		return true
	}
}

// Validate checks enum values and the offset sign. It does not check that
// CalendarID refers to a configured calendar.
func (r EventRule) Validate() error {
	switch r.Logic {
	case LogicAnd, LogicOr:
	default:
		return fmt.Errorf("rule %q: unknown logic %q", r.Name, r.Logic)
	}
	if r.WakeOffsetMinutes < 0 {
		return fmt.Errorf("rule %q: wake offset must be >= 0, got %d", r.Name, r.WakeOffsetMinutes)
	}
	for i, c := range r.Conditions {
		switch c.Field {
		case FieldEventName, FieldLocation:
		default:
			return fmt.Errorf("rule %q: condition %d: unknown field %q", r.Name, i, c.Field)
		}
		switch c.Op {
		case OpEquals, OpContains, OpNotEquals:
		default:
			return fmt.Errorf("rule %q: condition %d: unknown operator %q", r.Name, i, c.Op)
		}
	}
	return nil
}

// Enabled returns the enabled rules in input order.
func Enabled(rules []EventRule) []EventRule {
	out := make([]EventRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
