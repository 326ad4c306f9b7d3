package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

// CalendarInfo describes a subscribed calendar.
type CalendarInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Calendar reads events from a fixed set of ICS subscriptions.
type Calendar struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

func NewCalendar(fetcher *Fetcher, sources []Source, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{fetcher: fetcher, sources: sources, loc: loc}
}

// ListEvents returns every event from the selected calendars overlapping
// [start, end), recurrences expanded and ordered by start. An empty
// calendarIDs selects all calendars; unknown IDs are ignored.
//
// A source that cannot be fetched (and has nothing cached) fails the whole
// call so that a partial calendar is never planned against.
func (c *Calendar) ListEvents(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error) {
	selected := c.selectSources(calendarIDs)

	var parsed []ParsedEvent
	var errs []error
	for _, src := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.fetcher.Fetch(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %q: %w", src.ID, err))
			continue
		}
		evs, err := ParseICS(src, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %q: parse: %w", src.ID, err))
			continue
		}
		parsed = append(parsed, evs...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	events, err := ExpandEvents(parsed, ExpandConfig{
		Location:   c.loc,
		RangeStart: start,
		RangeEnd:   end,
	})
	if err != nil {
		return nil, err
	}
	appLog.Info("calendar events listed", "calendars", len(selected), "events", len(events),
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
	return events, nil
}

func (c *Calendar) selectSources(ids []string) []Source {
	if len(ids) == 0 {
		return c.sources
	}
	byID := make(map[string]Source, len(c.sources))
	for _, s := range c.sources {
		byID[s.ID] = s
	}
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			appLog.Warn("rule references unknown calendar", "calendar_id", id)
			continue
		}
		out = append(out, s)
	}
	return out
}
