package schedule

import (
	"fmt"
	"time"
)

// Weekday numbers days 1=Sunday … 7=Saturday.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// Weekdays lists every weekday in order.
var Weekdays = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf returns the weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(int(t.Weekday()) + 1)
}

func (w Weekday) String() string {
	if w < Sunday || w > Saturday {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return time.Weekday(w - 1).String()
}

// DaySchedule is the default bedtime/wake pair for one weekday. Only the
// time of day is stored; the date comes from the night being evaluated.
type DaySchedule struct {
	Enabled bool      `yaml:"enabled" json:"enabled"`
	Bedtime TimeOfDay `yaml:"bedtime" json:"bedtime"`
	Wake    TimeOfDay `yaml:"wake" json:"wake"`
}

// On materialises the schedule for the night starting on date. Wake rolls to
// the following day when it is not after bedtime.
func (d DaySchedule) On(date time.Time) SleepSchedule {
	bed := d.Bedtime.On(date)
	wake := d.Wake.On(date)
	if d.Wake.Minutes() <= d.Bedtime.Minutes() {
		wake = d.Wake.On(date.AddDate(0, 0, 1))
	}
	return SleepSchedule{Bedtime: bed, Wake: wake}
}

// WeeklyDefault holds one DaySchedule per weekday. Which day keys a night
// depends on the caller: For uses the bedtime date, ForWake the wake date.
type WeeklyDefault struct {
	Sunday    DaySchedule `yaml:"sunday" json:"sunday"`
	Monday    DaySchedule `yaml:"monday" json:"monday"`
	Tuesday   DaySchedule `yaml:"tuesday" json:"tuesday"`
	Wednesday DaySchedule `yaml:"wednesday" json:"wednesday"`
	Thursday  DaySchedule `yaml:"thursday" json:"thursday"`
	Friday    DaySchedule `yaml:"friday" json:"friday"`
	Saturday  DaySchedule `yaml:"saturday" json:"saturday"`
}

// DefaultWeekly returns 22:30–06:30 on school/work nights and 23:30–08:00 on
// Friday, Saturday and Sunday.
func DefaultWeekly() WeeklyDefault {
	weekday := DaySchedule{Enabled: true, Bedtime: Clock(22, 30), Wake: Clock(6, 30)}
	weekend := DaySchedule{Enabled: true, Bedtime: Clock(23, 30), Wake: Clock(8, 0)}
	return WeeklyDefault{
		Sunday:    weekend,
		Monday:    weekday,
		Tuesday:   weekday,
		Wednesday: weekday,
		Thursday:  weekday,
		Friday:    weekend,
		Saturday:  weekend,
	}
}

// Day returns the schedule for w. w must be one of the Weekday constants.
func (wd WeeklyDefault) Day(w Weekday) DaySchedule {
	return *wd.slot(w)
}

// WithDay returns a copy of wd with w replaced.
func (wd WeeklyDefault) WithDay(w Weekday, d DaySchedule) WeeklyDefault {
	*wd.slot(w) = d
	return wd
}

// For returns the schedule keyed by the weekday of date.
func (wd WeeklyDefault) For(date time.Time) DaySchedule {
	return wd.Day(WeekdayOf(date))
}

// ForWake returns the schedule for the night that starts on bedDate, keyed
// by the day the sleeper wakes up (bedDate + 1). Sunday night therefore
// takes Monday's entry.
func (wd WeeklyDefault) ForWake(bedDate time.Time) DaySchedule {
	y, m, d := bedDate.Date()
	return wd.For(time.Date(y, m, d+1, 12, 0, 0, 0, bedDate.Location()))
}

func (wd *WeeklyDefault) slot(w Weekday) *DaySchedule {
	switch w {
	case Sunday:
		return &wd.Sunday
	case Monday:
		return &wd.Monday
	case Tuesday:
		return &wd.Tuesday
	case Wednesday:
		return &wd.Wednesday
	case Thursday:
		return &wd.Thursday
	case Friday:
		return &wd.Friday
	case Saturday:
		return &wd.Saturday
	}
	panic(fmt.Sprintf("schedule: invalid weekday %d", int(w)))
}
