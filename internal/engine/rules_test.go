package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepcal/internal/model"
	"sleepcal/internal/rule"
	"sleepcal/internal/schedule"
)

func travelEvent(title string, day, hour, minute int) model.Event {
	e := ev(title, at(day, hour, minute))
	e.CalendarID = "travel"
	e.CalendarName = "Travel"
	return e
}

func flightRule() rule.EventRule {
	r := rule.New("Flights", "travel", 90, rule.Condition{Field: rule.FieldEventName, Op: rule.OpContains, Value: "flight"})
	r.ID = "flights"
	return r
}

func ruleInput(rules []rule.EventRule, events ...model.Event) RuleNightInput {
	return RuleNightInput{
		Date:              monday,
		Default:           standardDay(),
		Events:            events,
		Rules:             rules,
		DesiredSleepHours: 8,
		MinimumSleepHours: 7,
	}
}

func TestRuleMatchSetsWakeFromOffset(t *testing.T) {
	n, ok := EvaluateRuleNight(ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA1", 4, 7, 0)))

	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	adj := n.Adjustment
	assert.Equal(t, schedule.SourceCalendarEvent, n.Source)
	assert.Equal(t, at(4, 5, 30), adj.Adjusted.Wake)
	assert.Equal(t, at(3, 21, 30), adj.Adjusted.Bedtime)
	assert.Equal(t, "Flights", adj.RuleName)
	assert.Equal(t, "Flight UA1", adj.EventTitle)
	assert.Equal(t, schedule.Earlier, adj.Direction)
	assert.Equal(t, -60, adj.ShiftMinutes())
	assert.InDelta(t, 8.0, adj.Adjusted.DurationHours(), 1e-9)
}

func TestRuleLateEventMovesLater(t *testing.T) {
	n, ok := EvaluateRuleNight(ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA9", 4, 11, 0)))

	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, at(4, 9, 30), n.Adjustment.Adjusted.Wake)
	assert.Equal(t, at(4, 1, 30), n.Adjustment.Adjusted.Bedtime)
	assert.Equal(t, schedule.Later, n.Adjustment.Direction)
	assert.Equal(t, "3 hr", n.Adjustment.ShiftLabel())
}

func TestRuleKeepingBedtimeIsUnchanged(t *testing.T) {
	in := ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA4", 4, 7, 30))
	in.DesiredSleepHours = 7.5

	n, ok := EvaluateRuleNight(in)
	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, at(3, 22, 30), n.Adjustment.Adjusted.Bedtime)
	assert.Equal(t, schedule.Unchanged, n.Adjustment.Direction)
	assert.Equal(t, -30, n.Adjustment.WakeShiftMinutes())
	assert.Equal(t, `Keep bedtime, wake 30 min earlier for "Flight UA4"`, n.Adjustment.Summary())
}

func TestRuleIgnoresNonMatchingEvents(t *testing.T) {
	wrongCalendar := ev("Flight UA1", at(4, 7, 0))
	wrongCalendar.CalendarID = "work"

	allDay := travelEvent("Flight day", 4, 0, 0)
	allDay.AllDay = true

	tests := []struct {
		name  string
		event model.Event
	}{
		{"wrong calendar", wrongCalendar},
		{"title does not match", travelEvent("Hotel checkout", 4, 7, 0)},
		{"same day as bedtime", travelEvent("Flight UA1", 3, 15, 0)},
		{"two days later", travelEvent("Flight UA1", 5, 7, 0)},
		{"all day", allDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := EvaluateRuleNight(ruleInput([]rule.EventRule{flightRule()}, tt.event))
			require.True(t, ok)
			assert.Nil(t, n.Adjustment)
			assert.Equal(t, schedule.SourceDefaultSchedule, n.Source)
			assert.Equal(t, at(3, 22, 30), n.Default.Bedtime)
		})
	}
}

func TestRuleIgnoresDisabledAndCalendarlessRules(t *testing.T) {
	disabled := flightRule()
	disabled.Enabled = false
	noCalendar := flightRule()
	noCalendar.CalendarID = ""

	n, ok := EvaluateRuleNight(ruleInput([]rule.EventRule{disabled, noCalendar}, travelEvent("Flight UA1", 4, 7, 0)))
	require.True(t, ok)
	assert.Nil(t, n.Adjustment)
}

func TestRuleEarliestEventWins(t *testing.T) {
	n, ok := EvaluateRuleNight(ruleInput([]rule.EventRule{flightRule()},
		travelEvent("Flight late", 4, 9, 0),
		travelEvent("Flight early", 4, 6, 0),
	))

	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, "Flight early", n.Adjustment.EventTitle)
	assert.Equal(t, at(4, 4, 30), n.Adjustment.Adjusted.Wake)
}

func TestRuleTieBrokenByRuleOrder(t *testing.T) {
	train := rule.New("Trains", "travel", 30, rule.Condition{Field: rule.FieldEventName, Op: rule.OpContains, Value: "train"})
	rules := []rule.EventRule{flightRule(), train}

	n, ok := EvaluateRuleNight(ruleInput(rules,
		travelEvent("Train to Leeds", 4, 7, 0),
		travelEvent("Flight UA1", 4, 7, 0),
	))

	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, "Flights", n.Adjustment.RuleName)
	assert.Equal(t, at(4, 5, 30), n.Adjustment.Adjusted.Wake)
}

func TestRuleFirstMatchingRulePerEvent(t *testing.T) {
	broad := rule.New("Any travel", "travel", 15, rule.Condition{Field: rule.FieldEventName, Op: rule.OpNotEquals, Value: ""})
	rules := []rule.EventRule{broad, flightRule()}

	n, ok := EvaluateRuleNight(ruleInput(rules, travelEvent("Flight UA1", 4, 7, 0)))

	require.True(t, ok)
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, "Any travel", n.Adjustment.RuleName)
	assert.Equal(t, at(4, 6, 45), n.Adjustment.Adjusted.Wake)
}

func TestRuleFloorRejectsShortDesiredSleep(t *testing.T) {
	in := ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA1", 4, 7, 0))
	in.DesiredSleepHours = 6
	in.MinimumSleepHours = 7

	n, ok := EvaluateRuleNight(in)
	require.True(t, ok)
	assert.Nil(t, n.Adjustment)
}

func TestRuleDisabledWeekday(t *testing.T) {
	off := standardDay()
	off.Enabled = false

	in := ruleInput([]rule.EventRule{flightRule()})
	in.Default = off
	_, ok := EvaluateRuleNight(in)
	assert.False(t, ok, "disabled weekday without a match is skipped")

	in = ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA1", 4, 7, 0))
	in.Default = off
	n, ok := EvaluateRuleNight(in)
	require.True(t, ok, "a matching event still produces a night")
	require.NotNil(t, n.Adjustment)
	assert.Equal(t, at(4, 5, 30), n.Adjustment.Adjusted.Wake)
}

func TestRuleEvaluationIsPure(t *testing.T) {
	in := ruleInput([]rule.EventRule{flightRule()}, travelEvent("Flight UA1", 4, 7, 0))
	a, okA := EvaluateRuleNight(in)
	b, okB := EvaluateRuleNight(in)
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}
