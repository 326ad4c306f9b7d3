package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekdayOf(t *testing.T) {
	// 2025-03-02 is a Sunday.
	assert.Equal(t, Sunday, WeekdayOf(date(2025, 3, 2)))
	assert.Equal(t, Monday, WeekdayOf(date(2025, 3, 3)))
	assert.Equal(t, Saturday, WeekdayOf(date(2025, 3, 8)))
	assert.Equal(t, "Wednesday", Wednesday.String())
	assert.Equal(t, "Weekday(9)", Weekday(9).String())
}

func TestWeeklyDefaultExhaustive(t *testing.T) {
	wd := DefaultWeekly()
	for _, w := range Weekdays {
		assert.True(t, wd.Day(w).Enabled, w.String())
	}
	assert.Equal(t, Clock(22, 30), wd.Day(Monday).Bedtime)
	assert.Equal(t, Clock(8, 0), wd.Day(Saturday).Wake)

	off := DaySchedule{Enabled: false, Bedtime: Clock(1, 0), Wake: Clock(9, 0)}
	changed := wd.WithDay(Tuesday, off)
	assert.Equal(t, off, changed.Day(Tuesday))
	assert.True(t, wd.Day(Tuesday).Enabled, "WithDay must not mutate the receiver")

	// Night of Tuesday 2025-03-04 uses Tuesday's schedule.
	assert.Equal(t, off, changed.For(date(2025, 3, 4)))
	// Monday night wakes on Tuesday.
	assert.Equal(t, off, changed.ForWake(date(2025, 3, 3)))
	// Sunday night wakes on Monday.
	assert.Equal(t, wd.Day(Monday), wd.ForWake(date(2025, 3, 9)))
}

func TestDayScheduleOnRollsWake(t *testing.T) {
	d := DaySchedule{Enabled: true, Bedtime: Clock(22, 30), Wake: Clock(6, 30)}
	s := d.On(date(2025, 3, 3))
	assert.Equal(t, time.Date(2025, 3, 3, 22, 30, 0, 0, time.UTC), s.Bedtime)
	assert.Equal(t, time.Date(2025, 3, 4, 6, 30, 0, 0, time.UTC), s.Wake)
	assert.Equal(t, 8*time.Hour, s.Duration())

	// Bedtime after midnight: both on the same date.
	late := DaySchedule{Bedtime: Clock(0, 30), Wake: Clock(7, 0)}.On(date(2025, 3, 3))
	assert.Equal(t, time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC), late.Wake)
	assert.InDelta(t, 6.5, late.DurationHours(), 1e-9)

	// Equal times roll a full day.
	same := DaySchedule{Bedtime: Clock(7, 0), Wake: Clock(7, 0)}.On(date(2025, 3, 3))
	assert.Equal(t, 24*time.Hour, same.Duration())
}

func TestDurationRollsNegative(t *testing.T) {
	s := SleepSchedule{
		Bedtime: time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC),
		Wake:    time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 8*time.Hour, s.Duration())
}

func TestTimeOfDayEncoding(t *testing.T) {
	type wrapper struct {
		At TimeOfDay `yaml:"at" json:"at"`
	}

	out, err := yaml.Marshal(wrapper{At: Clock(6, 5)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "06:05")
	var back wrapper
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, Clock(6, 5), back.At)

	var w wrapper
	require.NoError(t, yaml.Unmarshal([]byte("at: \"21:45\"\n"), &w))
	assert.Equal(t, Clock(21, 45), w.At)

	js, err := json.Marshal(wrapper{At: Clock(23, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"23:00"}`, string(js))

	assert.Error(t, yaml.Unmarshal([]byte("at: \"25:00\"\n"), &w))
	_, err = ParseTimeOfDay("7pm")
	assert.Error(t, err)
}

func TestAdjustmentLabels(t *testing.T) {
	orig := DaySchedule{Bedtime: Clock(22, 30), Wake: Clock(6, 30)}.On(date(2025, 3, 3))

	tests := []struct {
		shift time.Duration
		label string
	}{
		{-45 * time.Minute, "45 min"},
		{-time.Hour, "1 hr"},
		{-90 * time.Minute, "1 hr 30 min"},
		{2 * time.Hour, "2 hr"},
	}
	for _, tt := range tests {
		adj := SleepAdjustment{
			Original:   orig,
			Adjusted:   orig.Shift(tt.shift),
			EventTitle: "Flight",
			Direction:  DirectionBetween(orig, orig.Shift(tt.shift)),
		}
		assert.Equal(t, tt.label, adj.ShiftLabel())
		assert.Equal(t, int(tt.shift/time.Minute), adj.ShiftMinutes())
		assert.Equal(t, int(tt.shift/time.Minute), adj.WakeShiftMinutes())
	}

	adj := SleepAdjustment{Original: orig, Adjusted: orig.Shift(-90 * time.Minute), EventTitle: "Flight", Direction: Earlier}
	assert.Equal(t, `Move bedtime 1 hr 30 min earlier for "Flight"`, adj.Summary())
}

func TestAdjustmentWithSameBedtime(t *testing.T) {
	orig := DaySchedule{Bedtime: Clock(22, 30), Wake: Clock(6, 30)}.On(date(2025, 3, 3))
	earlyWake := SleepSchedule{Bedtime: orig.Bedtime, Wake: orig.Wake.Add(-30 * time.Minute)}

	assert.Equal(t, Unchanged, DirectionBetween(orig, orig))
	assert.Equal(t, Unchanged, DirectionBetween(orig, earlyWake))

	adj := SleepAdjustment{Original: orig, Adjusted: earlyWake, EventTitle: "Standup", Direction: DirectionBetween(orig, earlyWake)}
	assert.Equal(t, 0, adj.ShiftMinutes())
	assert.Equal(t, `Keep bedtime, wake 30 min earlier for "Standup"`, adj.Summary())

	same := SleepAdjustment{Original: orig, Adjusted: orig, EventTitle: "Standup", Direction: Unchanged}
	assert.Equal(t, `Keep usual schedule for "Standup"`, same.Summary())
}

func TestNightActiveAndSamples(t *testing.T) {
	def := DaySchedule{Bedtime: Clock(22, 0), Wake: Clock(6, 0)}
	n1 := Night{Date: date(2025, 3, 3), Default: def.On(date(2025, 3, 3)), Source: SourceDefaultSchedule}
	adjusted := def.On(date(2025, 3, 4)).Shift(-time.Hour)
	n2 := Night{
		Date:    date(2025, 3, 4),
		Default: def.On(date(2025, 3, 4)),
		Adjustment: &SleepAdjustment{
			Original:   def.On(date(2025, 3, 4)),
			Adjusted:   adjusted,
			EventTitle: "Standup",
			Direction:  Earlier,
		},
		Source: SourceCalendarEvent,
	}
	// Degenerate window is skipped.
	bad := Night{Date: date(2025, 3, 5), Default: SleepSchedule{
		Bedtime: time.Date(2025, 3, 5, 23, 0, 0, 0, time.UTC),
		Wake:    time.Date(2025, 3, 5, 7, 0, 0, 0, time.UTC),
	}}

	assert.False(t, n1.Adjusted())
	assert.True(t, n2.Adjusted())
	assert.Equal(t, adjusted, n2.Active())

	samples, start, end, ok := Samples([]Night{n1, n2, bad})
	require.True(t, ok)
	require.Len(t, samples, 2)
	assert.Equal(t, "Standup", samples[1].Title)
	assert.Equal(t, n1.Default.Bedtime, start)
	assert.Equal(t, adjusted.Wake, end)

	_, _, _, ok = Samples(nil)
	assert.False(t, ok)
}

func TestSampleUIDAndSummary(t *testing.T) {
	start := time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC)
	a := Sample{Start: start, End: start.Add(8 * time.Hour)}
	b := Sample{Start: start.In(time.FixedZone("CET", 3600)), End: a.End, Title: "Flight UA1"}
	c := Sample{Start: start.Add(time.Minute), End: a.End}

	assert.Equal(t, a.UID(), b.UID())
	assert.NotEqual(t, a.UID(), c.UID())
	assert.Len(t, a.UID(), 36)

	assert.Equal(t, "Sleep", a.Summary())
	assert.Equal(t, "Sleep (Flight UA1)", b.Summary())
}
