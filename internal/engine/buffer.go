package engine

import (
	"time"

	"sleepcal/internal/model"
	"sleepcal/internal/schedule"
)

// BufferNightInput is everything EvaluateBufferNight looks at for one night.
type BufferNightInput struct {
	// Date is the day the sleeper goes to bed.
	Date    time.Time
	Default schedule.DaySchedule
	// Events should already be filtered and sorted by start; order only
	// matters for breaking exact ties.
	Events []model.Event
	// BufferMinutes is how long the sleeper needs between waking and an event.
	BufferMinutes     int
	MinimumSleepHours float64
}

// EvaluateBufferNight moves a night earlier when an event starts too soon
// after the default wake time.
//
// Events starting in (bedtime, wake+buffer] whose required wake
// (start−buffer) falls after bedtime and before the default wake are
// conflicts. The conflict with the earliest required wake wins; both ends of
// the night shift earlier by the same amount so duration is kept. The shifted
// night is dropped in favour of the default when it is shorter than
// MinimumSleepHours.
func EvaluateBufferNight(in BufferNightInput) schedule.Night {
	def := in.Default.On(in.Date)
	night := schedule.Night{
		Date:    schedule.StartOfDay(in.Date),
		Default: def,
		Source:  schedule.SourceDefaultSchedule,
	}

	buffer := time.Duration(in.BufferMinutes) * time.Minute
	windowEnd := def.Wake.Add(buffer)

	best := -1
	var bestWake time.Time
	for i, ev := range in.Events {
		if ev.AllDay {
			continue
		}
		if !ev.Start.After(def.Bedtime) || ev.Start.After(windowEnd) {
			continue
		}
		required := ev.Start.Add(-buffer)
		if !required.Before(def.Wake) || !required.After(def.Bedtime) {
			continue
		}
		if best < 0 || required.Before(bestWake) ||
			(required.Equal(bestWake) && ev.Start.Before(in.Events[best].Start)) {
			best = i
			bestWake = required
		}
	}
	if best < 0 {
		return night
	}

	shift := def.Wake.Sub(bestWake)
	adjusted := def.Shift(-shift)
	if adjusted.DurationHours() < in.MinimumSleepHours {
		return night
	}

	ev := in.Events[best]
	night.Adjustment = &schedule.SleepAdjustment{
		Original:   def,
		Adjusted:   adjusted,
		EventTitle: ev.Title,
		EventStart: ev.Start,
		Direction:  schedule.Earlier,
	}
	night.Source = schedule.SourceCalendarEvent
	return night
}
