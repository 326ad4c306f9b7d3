package engine

import (
	"time"

	"sleepcal/internal/model"
	"sleepcal/internal/rule"
	"sleepcal/internal/schedule"
)

// RuleNightInput is everything EvaluateRuleNight looks at for one night.
type RuleNightInput struct {
	// Date is the day the sleeper goes to bed; matching events start on the
	// following day.
	Date time.Time
	// Default is the weekday entry for this night, anchored on Date. The
	// planner passes the wake day's entry.
	Default schedule.DaySchedule
	Events  []model.Event
	// Rules are evaluated in order; disabled rules and rules without a
	// calendar are ignored.
	Rules             []rule.EventRule
	DesiredSleepHours float64
	MinimumSleepHours float64
}

type ruleMatch struct {
	event   model.Event
	rule    rule.EventRule
	ruleIdx int
}

// EvaluateRuleNight resolves one night using event rules.
//
// Among the timed events of the next day that belong to a rule's calendar
// and satisfy that rule, the earliest wins (ties go to the earlier rule, then
// to input order). Wake is set WakeOffsetMinutes before it and bedtime
// DesiredSleepHours before wake. Without a match, or when DesiredSleepHours
// is below MinimumSleepHours, the weekday default applies; ok is false when
// that weekday is disabled.
func EvaluateRuleNight(in RuleNightInput) (night schedule.Night, ok bool) {
	day := schedule.StartOfDay(in.Date)
	def := in.Default.On(day)
	night = schedule.Night{
		Date:    day,
		Default: def,
		Source:  schedule.SourceDefaultSchedule,
	}

	if m, found := earliestRuleMatch(in, day); found && in.DesiredSleepHours >= in.MinimumSleepHours {
		wake := m.event.Start.Add(-time.Duration(m.rule.WakeOffsetMinutes) * time.Minute)
		bed := wake.Add(-hours(in.DesiredSleepHours))
		adjusted := schedule.SleepSchedule{Bedtime: bed, Wake: wake}

		night.Adjustment = &schedule.SleepAdjustment{
			Original:   def,
			Adjusted:   adjusted,
			EventTitle: m.event.Title,
			EventStart: m.event.Start,
			RuleName:   m.rule.Name,
			Direction:  schedule.DirectionBetween(def, adjusted),
		}
		night.Source = schedule.SourceCalendarEvent
		return night, true
	}

	if !in.Default.Enabled {
		return schedule.Night{}, false
	}
	return night, true
}

func earliestRuleMatch(in RuleNightInput, day time.Time) (ruleMatch, bool) {
	from := day.AddDate(0, 0, 1)
	to := day.AddDate(0, 0, 2)

	var best ruleMatch
	found := false
	for _, ev := range in.Events {
		if ev.AllDay || ev.Start.Before(from) || !ev.Start.Before(to) {
			continue
		}
		for idx, r := range in.Rules {
			if !r.Enabled || r.CalendarID == "" || r.CalendarID != ev.CalendarID {
				continue
			}
			if !r.Matches(ev.Title, ev.Location) {
				continue
			}
			if !found || ev.Start.Before(best.event.Start) ||
				(ev.Start.Equal(best.event.Start) && idx < best.ruleIdx) {
				best = ruleMatch{event: ev, rule: r, ruleIdx: idx}
				found = true
			}
			break
		}
	}
	return best, found
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
