package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sleepcal/internal/engine"
	"sleepcal/internal/filter"
	"sleepcal/internal/rule"
	"sleepcal/internal/schedule"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

const (
	MinLookAheadDays     = 1
	MaxLookAheadDays     = 30
	DefaultLookAheadDays = 7
)

// Frequency is how often the periodic sync runs.
type Frequency string

const (
	Daily         Frequency = "daily"
	TwiceDaily    Frequency = "twice_daily"
	EverySixHours Frequency = "every_6h"
	EveryThreeHrs Frequency = "every_3h"
)

// Interval is the fixed gap between runs.
func (f Frequency) Interval() (time.Duration, error) {
	switch f {
	case Daily:
		return 86400 * time.Second, nil
	case TwiceDaily:
		return 43200 * time.Second, nil
	case EverySixHours:
		return 21600 * time.Second, nil
	case EveryThreeHrs:
		return 10800 * time.Second, nil
	}
	return 0, fmt.Errorf("%w: unknown sync frequency %q", ErrInvalid, f)
}

// SyncSettings controls the look-ahead window and the periodic sync.
type SyncSettings struct {
	LookAheadDays int                `yaml:"look_ahead_days" json:"look_ahead_days"`
	SyncTime      schedule.TimeOfDay `yaml:"sync_time" json:"sync_time"`
	Frequency     Frequency          `yaml:"frequency" json:"frequency"`
}

// CronSpec renders the schedule as a standard five-field cron expression
// anchored on SyncTime, e.g. every_6h at 21:00 → "0 3,9,15,21 * * *".
func (s SyncSettings) CronSpec() (string, error) {
	interval, err := s.Frequency.Interval()
	if err != nil {
		return "", err
	}
	step := int(interval / time.Hour)

	var hours []string
	for h := s.SyncTime.Hour % step; h < 24; h += step {
		hours = append(hours, strconv.Itoa(h))
	}
	spec := fmt.Sprintf("%d %s * * *", s.SyncTime.Minute, strings.Join(hours, ","))
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", fmt.Errorf("%w: sync schedule %q: %v", ErrInvalid, spec, err)
	}
	return spec, nil
}

// Notifications holds notification preferences. They are stored for the
// user's clients and not acted on by the engine.
type Notifications struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	ShowChangeSummary  bool `yaml:"show_change_summary" json:"show_change_summary"`
	HoursBeforeBedtime int  `yaml:"hours_before_bedtime" json:"hours_before_bedtime"`
}

// Settings are the user's sleep preferences.
type Settings struct {
	Mode              engine.Mode            `yaml:"mode" json:"mode"`
	Weekly            schedule.WeeklyDefault `yaml:"weekly" json:"weekly"`
	Rules             []rule.EventRule       `yaml:"rules" json:"rules"`
	Filters           []filter.EventFilter   `yaml:"filters" json:"filters"`
	Sync              SyncSettings           `yaml:"sync" json:"sync"`
	DesiredSleepHours float64                `yaml:"desired_sleep_hours" json:"desired_sleep_hours"`
	MinimumSleepHours float64                `yaml:"minimum_sleep_hours" json:"minimum_sleep_hours"`
	// BufferMinutes is the preparation time used in buffer mode.
	BufferMinutes int           `yaml:"buffer_minutes" json:"buffer_minutes"`
	Notifications Notifications `yaml:"notifications" json:"notifications"`
}

// Default returns first-run settings.
func Default() Settings {
	return Settings{
		Mode:   engine.ModeRules,
		Weekly: schedule.DefaultWeekly(),
		Rules:  []rule.EventRule{},
		Sync: SyncSettings{
			LookAheadDays: DefaultLookAheadDays,
			SyncTime:      schedule.Clock(21, 0),
			Frequency:     Daily,
		},
		Filters:           []filter.EventFilter{},
		DesiredSleepHours: 8,
		MinimumSleepHours: 7,
		BufferMinutes:     30,
		Notifications: Notifications{
			Enabled:            true,
			ShowChangeSummary:  true,
			HoursBeforeBedtime: 2,
		},
	}
}

// Normalize fills zero values and clamps the look-ahead window so that
// partially written files still load.
func (s *Settings) Normalize() {
	if s.Mode == "" {
		s.Mode = engine.ModeRules
	}
	if s.Rules == nil {
		s.Rules = []rule.EventRule{}
	}
	if s.Filters == nil {
		s.Filters = []filter.EventFilter{}
	}
	switch {
	case s.Sync.LookAheadDays == 0:
		s.Sync.LookAheadDays = DefaultLookAheadDays
	case s.Sync.LookAheadDays < MinLookAheadDays:
		s.Sync.LookAheadDays = MinLookAheadDays
	case s.Sync.LookAheadDays > MaxLookAheadDays:
		s.Sync.LookAheadDays = MaxLookAheadDays
	}
	if s.Sync.Frequency == "" {
		s.Sync.Frequency = Daily
	}
	if s.DesiredSleepHours <= 0 {
		s.DesiredSleepHours = 8
	}
	if s.MinimumSleepHours < 0 {
		s.MinimumSleepHours = 0
	}
	if s.BufferMinutes < 0 {
		s.BufferMinutes = 0
	}
}

// Validate rejects unknown enum values and malformed rules or filters. A
// minimum sleep above what a night can hold is allowed; it just means no
// adjustment is ever proposed.
func (s Settings) Validate() error {
	if _, err := engine.ParseMode(string(s.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := s.Sync.CronSpec(); err != nil {
		return err
	}
	if !s.Sync.SyncTime.Valid() {
		return fmt.Errorf("%w: sync time %s", ErrInvalid, s.Sync.SyncTime)
	}
	for _, w := range schedule.Weekdays {
		d := s.Weekly.Day(w)
		if !d.Bedtime.Valid() || !d.Wake.Valid() {
			return fmt.Errorf("%w: %s schedule has an invalid time", ErrInvalid, w)
		}
	}
	for _, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	for _, f := range s.Filters {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Policy extracts the planner input.
func (s Settings) Policy() engine.Policy {
	return engine.Policy{
		Mode:              s.Mode,
		Weekly:            s.Weekly,
		Rules:             s.Rules,
		BufferMinutes:     s.BufferMinutes,
		DesiredSleepHours: s.DesiredSleepHours,
		MinimumSleepHours: s.MinimumSleepHours,
	}
}

// CalendarIDs lists the distinct calendars referenced by enabled rules, in
// rule order.
func (s Settings) CalendarIDs() []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, r := range rule.Enabled(s.Rules) {
		if r.CalendarID == "" || seen[r.CalendarID] {
			continue
		}
		seen[r.CalendarID] = true
		ids = append(ids, r.CalendarID)
	}
	return ids
}
