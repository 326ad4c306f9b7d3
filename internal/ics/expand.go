package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location is the zone every occurrence is converted to. Nil means
	// time.Local.
	Location *time.Location

	// RangeStart/RangeEnd is the half-open window occurrences must overlap.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one series; zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandEvents turns parsed VEVENTs into concrete events overlapping the
// configured window. It applies RRULE, EXDATE and RECURRENCE-ID overrides,
// drops cancelled instances, and returns events ordered by start.
func ExpandEvents(events []ParsedEvent, cfg ExpandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Keyed by calendar as well, since UIDs are only unique per calendar.
	type seriesKey struct{ calendar, uid string }
	var order []seriesKey
	bases := make(map[seriesKey][]ParsedEvent)
	overrides := make(map[seriesKey][]ParsedEvent)

	for _, ev := range events {
		k := seriesKey{ev.Source.ID, ev.UID}
		if ev.IsOverride() {
			overrides[k] = append(overrides[k], ev)
			continue
		}
		if _, seen := bases[k]; !seen {
			order = append(order, k)
		}
		bases[k] = append(bases[k], ev)
	}

	out := make([]model.Event, 0)
	for _, k := range order {
		for _, ev := range bases[k] {
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, cfg)...)
				continue
			}
			out = append(out, expandRecurring(ev, overrides[k], cfg)...)
		}
	}
	return model.SortByStart(out), nil
}

func expandSingle(ev ParsedEvent, cfg ExpandConfig) []model.Event {
	if ev.Cancelled() || !overlaps(ev.Start, ev.End, cfg) {
		return nil
	}
	return []model.Event{makeEvent(ev, ev.Start, ev.End, cfg.Location)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if ev.Cancelled() {
		return nil
	}

	set, err := buildSet(ev)
	if err != nil {
		appLog.Warn("expand: bad RRULE; series skipped", "uid", ev.UID, "rrule", ev.RawRRule, "err", err.Error())
		return nil
	}

	loc := ev.Start.Location()
	dur := ev.End.Sub(ev.Start)

	// Widen the lower bound by the duration so instances that started
	// before the window but still run into it are kept.
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: occurrence cap reached", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	used := make(map[int]bool)
	out := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		inst, instStart, instEnd := ev, start, start.Add(dur)
		if ev.AllDay {
			instStart = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
			instEnd = instStart.AddDate(0, 0, 1)
		}
		if i, ok := findOverride(overrides, start); ok {
			used[i] = true
			inst, instStart, instEnd = overrides[i], overrides[i].Start, overrides[i].End
		}
		if inst.Cancelled() || !overlaps(instStart, instEnd, cfg) {
			continue
		}
		out = append(out, makeEvent(inst, instStart, instEnd, cfg.Location))
	}

	// Overrides that moved an instance into the window from outside it.
	for i, ov := range overrides {
		if used[i] || ov.Cancelled() || !overlaps(ov.Start, ov.End, cfg) {
			continue
		}
		rid := ov.Recurrence.In(loc)
		if len(set.Between(rid, rid, true)) == 0 {
			continue
		}
		out = append(out, makeEvent(ov, ov.Start, ov.End, cfg.Location))
	}
	return out
}

func buildSet(ev ParsedEvent) (*rrule.Set, error) {
	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		return nil, err
	}
	// Defaults such as BYDAY for WEEKLY derive from DTSTART, so it must be
	// set before the rule is built.
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}
	return set, nil
}

// findOverride returns the index of the override with the highest SEQUENCE
// whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (int, bool) {
	best := -1
	for i, ov := range overrides {
		if !ov.Recurrence.Equal(start) {
			continue
		}
		if best < 0 || ov.Seq > overrides[best].Seq {
			best = i
		}
	}
	return best, best >= 0
}

func makeEvent(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Event {
	start = start.In(loc)
	return model.Event{
		UID:          ev.UID,
		InstanceKey:  start.Format(time.RFC3339),
		Title:        ev.Summary,
		Location:     ev.Location,
		CalendarID:   ev.Source.ID,
		CalendarName: ev.Source.Name,
		AllDay:       ev.AllDay,
		Start:        start,
		End:          end.In(loc),
	}
}

// overlaps reports whether [start, end) intersects the configured window.
// Zero-length events count when their instant falls inside it.
func overlaps(start, end time.Time, cfg ExpandConfig) bool {
	if !start.Before(cfg.RangeEnd) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(cfg.RangeStart)
	}
	return end.After(cfg.RangeStart)
}
