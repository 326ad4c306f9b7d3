package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SleepSchedule is a concrete bedtime/wake pair.
type SleepSchedule struct {
	Bedtime time.Time `json:"bedtime"`
	Wake    time.Time `json:"wake"`
}

// Duration is wake minus bedtime. Sleep always runs forward across midnight,
// so a wake at or before bedtime counts as the next day.
func (s SleepSchedule) Duration() time.Duration {
	d := s.Wake.Sub(s.Bedtime)
	if d <= 0 {
		d += 24 * time.Hour
	}
	return d
}

func (s SleepSchedule) DurationHours() float64 {
	return s.Duration().Hours()
}

// Shift moves both ends by d.
func (s SleepSchedule) Shift(d time.Duration) SleepSchedule {
	return SleepSchedule{Bedtime: s.Bedtime.Add(d), Wake: s.Wake.Add(d)}
}

// Direction tells which way an adjustment moved bedtime.
type Direction string

const (
	Earlier Direction = "earlier"
	Later   Direction = "later"
	// Unchanged means bedtime stayed put; wake may still have moved.
	Unchanged Direction = "unchanged"
)

// SleepAdjustment records an event-driven change to a night's schedule.
type SleepAdjustment struct {
	Original   SleepSchedule `json:"original"`
	Adjusted   SleepSchedule `json:"adjusted"`
	EventTitle string        `json:"event_title"`
	EventStart time.Time     `json:"event_start"`
	// RuleName is set when the adjustment came from an event rule.
	RuleName  string    `json:"rule_name,omitempty"`
	Direction Direction `json:"direction"`
}

// DirectionBetween compares bedtimes only.
func DirectionBetween(original, adjusted SleepSchedule) Direction {
	switch {
	case adjusted.Bedtime.Before(original.Bedtime):
		return Earlier
	case adjusted.Bedtime.After(original.Bedtime):
		return Later
	default:
		return Unchanged
	}
}

// ShiftMinutes is adjusted minus original bedtime; negative means earlier.
func (a SleepAdjustment) ShiftMinutes() int {
	return int(a.Adjusted.Bedtime.Sub(a.Original.Bedtime) / time.Minute)
}

func (a SleepAdjustment) WakeShiftMinutes() int {
	return int(a.Adjusted.Wake.Sub(a.Original.Wake) / time.Minute)
}

// ShiftLabel renders the bedtime shift magnitude, e.g. "45 min", "1 hr" or
// "1 hr 30 min".
func (a SleepAdjustment) ShiftLabel() string {
	return minutesLabel(a.ShiftMinutes())
}

func minutesLabel(total int) string {
	if total < 0 {
		total = -total
	}
	hrs, mins := total/60, total%60
	switch {
	case hrs == 0:
		return fmt.Sprintf("%d min", mins)
	case mins == 0:
		return fmt.Sprintf("%d hr", hrs)
	default:
		return fmt.Sprintf("%d hr %d min", hrs, mins)
	}
}

func (a SleepAdjustment) Summary() string {
	if a.Direction != Unchanged {
		return fmt.Sprintf("Move bedtime %s %s for %q", a.ShiftLabel(), a.Direction, a.EventTitle)
	}
	switch w := a.WakeShiftMinutes(); {
	case w < 0:
		return fmt.Sprintf("Keep bedtime, wake %s earlier for %q", minutesLabel(w), a.EventTitle)
	case w > 0:
		return fmt.Sprintf("Keep bedtime, wake %s later for %q", minutesLabel(w), a.EventTitle)
	default:
		return fmt.Sprintf("Keep usual schedule for %q", a.EventTitle)
	}
}

// Source tags where a night's active schedule came from.
type Source string

const (
	SourceCalendarEvent   Source = "calendar_event"
	SourceDefaultSchedule Source = "default_schedule"
)

// Night is the resolved schedule for one night. Date is midnight of the day
// the sleeper goes to bed.
type Night struct {
	Date       time.Time        `json:"date"`
	Default    SleepSchedule    `json:"default"`
	Adjustment *SleepAdjustment `json:"adjustment,omitempty"`
	Source     Source           `json:"source"`
}

func (n Night) Adjusted() bool {
	return n.Adjustment != nil
}

// Active returns the adjusted schedule if present, otherwise the default.
func (n Night) Active() SleepSchedule {
	if n.Adjustment != nil {
		return n.Adjustment.Adjusted
	}
	return n.Default
}

// Sample is one sleep window mirrored to an external store.
type Sample struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Title is a short label such as the triggering event, if any.
	Title string `json:"title,omitempty"`
}

// sampleNamespace scopes the name-based sample UIDs.
var sampleNamespace = uuid.MustParse("3f0c2a4e-5b1d-4c8e-9a77-2d6f1e0b8c41")

// UID is stable for a window starting at the same instant, whatever its
// zone.
func (s Sample) UID() string {
	return uuid.NewSHA1(sampleNamespace, []byte(s.Start.UTC().Format(time.RFC3339))).String()
}

// Summary is the label shown in calendars and health stores.
func (s Sample) Summary() string {
	if s.Title == "" {
		return "Sleep"
	}
	return "Sleep (" + s.Title + ")"
}

// Samples converts nights into their active windows, skipping any window
// whose wake is not after bedtime. It also returns the span covering all
// windows; ok is false when there are none.
func Samples(nights []Night) (samples []Sample, start, end time.Time, ok bool) {
	for _, n := range nights {
		active := n.Active()
		if !active.Wake.After(active.Bedtime) {
			continue
		}
		s := Sample{Start: active.Bedtime, End: active.Wake}
		if n.Adjustment != nil {
			s.Title = n.Adjustment.EventTitle
		}
		samples = append(samples, s)
		if !ok || s.Start.Before(start) {
			start = s.Start
		}
		if !ok || s.End.After(end) {
			end = s.End
		}
		ok = true
	}
	return samples, start, end, ok
}
