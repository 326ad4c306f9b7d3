package model

import (
	"sort"
	"time"
)

// Event is a single concrete calendar event occurrence as seen by the
// schedule engine. Recurring events have already been expanded and times
// are in the configured display timezone.
type Event struct {
	// UID is the iCalendar UID; InstanceKey distinguishes occurrences of a
	// recurring event.
	UID         string
	InstanceKey string

	Title    string
	Location string

	// CalendarID / CalendarName identify the subscription the event came from.
	CalendarID   string
	CalendarName string

	AllDay bool

	Start time.Time
	End   time.Time
}

// DropAllDay returns the timed events from events, preserving order.
func DropAllDay(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SortByStart returns a copy of events ordered by start time. Events with the
// same start keep their input order.
func SortByStart(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
