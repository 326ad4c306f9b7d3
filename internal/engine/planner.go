package engine

import (
	"fmt"
	"time"

	"sleepcal/internal/model"
	"sleepcal/internal/rule"
	"sleepcal/internal/schedule"
)

// Mode selects the conflict policy. The two policies are alternatives; a
// planner runs exactly one of them.
type Mode string

const (
	// ModeRules derives wake time from per-rule offsets and a fixed desired
	// sleep length.
	ModeRules Mode = "rules"
	// ModeBuffer shifts the default night earlier by a global preparation
	// buffer, keeping its length.
	ModeBuffer Mode = "buffer"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRules, ModeBuffer:
		return Mode(s), nil
	case "":
		return ModeRules, nil
	}
	return "", fmt.Errorf("unknown schedule mode %q", s)
}

// Policy is the evaluation input that stays fixed across nights.
type Policy struct {
	Mode              Mode
	Weekly            schedule.WeeklyDefault
	Rules             []rule.EventRule
	BufferMinutes     int
	DesiredSleepHours float64
	MinimumSleepHours float64
}

// Planner evaluates a look-ahead window night by night.
type Planner struct {
	policy Policy
}

func NewPlanner(p Policy) *Planner {
	if p.Mode == "" {
		p.Mode = ModeRules
	}
	p.Rules = rule.Enabled(p.Rules)
	return &Planner{policy: p}
}

// Plan returns one entry per night for the days nights starting on from's
// date, in chronological order. Nights do not influence each other.
//
// Rules mode takes each night's default from the weekday of the wake day
// and leaves a night out when that weekday is disabled and no event
// matched. Buffer mode keys on the bedtime day and skips disabled weekdays
// outright.
func (p *Planner) Plan(from time.Time, days int, events []model.Event) []schedule.Night {
	if days <= 0 {
		return []schedule.Night{}
	}

	timed := model.SortByStart(model.DropAllDay(events))
	first := schedule.StartOfDay(from)
	y, m, d := first.Date()

	nights := make([]schedule.Night, 0, days)
	for i := 0; i < days; i++ {
		date := time.Date(y, m, d+i, 0, 0, 0, 0, first.Location())
		if n, ok := p.evaluate(date, timed); ok {
			nights = append(nights, n)
		}
	}
	return nights
}

func (p *Planner) evaluate(date time.Time, events []model.Event) (schedule.Night, bool) {
	switch p.policy.Mode {
	case ModeBuffer:
		def := p.policy.Weekly.For(date)
		if !def.Enabled {
			return schedule.Night{}, false
		}
		return EvaluateBufferNight(BufferNightInput{
			Date:              date,
			Default:           def,
			Events:            events,
			BufferMinutes:     p.policy.BufferMinutes,
			MinimumSleepHours: p.policy.MinimumSleepHours,
		}), true
	default:
		return EvaluateRuleNight(RuleNightInput{
			Date:              date,
			Default:           p.policy.Weekly.ForWake(date),
			Events:            events,
			Rules:             p.policy.Rules,
			DesiredSleepHours: p.policy.DesiredSleepHours,
			MinimumSleepHours: p.policy.MinimumSleepHours,
		})
	}
}

// FetchWindow is the event range a Plan over the same nights can consult:
// from the first bedtime date through the day after the last night, plus one
// more day for late wakes and buffers.
func FetchWindow(from time.Time, days int) (start, end time.Time) {
	start = schedule.StartOfDay(from)
	y, m, d := start.Date()
	end = time.Date(y, m, d+days+2, 0, 0, 0, 0, start.Location())
	return start, end
}

// OnlyAdjusted keeps the nights that carry an adjustment.
func OnlyAdjusted(nights []schedule.Night) []schedule.Night {
	out := make([]schedule.Night, 0, len(nights))
	for _, n := range nights {
		if n.Adjusted() {
			out = append(out, n)
		}
	}
	return out
}
