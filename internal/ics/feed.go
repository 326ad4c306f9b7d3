package ics

import (
	"context"
	"time"

	ical "github.com/arran4/golang-ical"

	"sleepcal/internal/config"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/schedule"
)

const feedProductID = "-//sleepcal//sleep schedule//EN"

// RenderSleepFeed renders samples as a published calendar. stamp becomes
// every event's DTSTAMP.
func RenderSleepFeed(samples []schedule.Sample, stamp time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(feedProductID)
	cal.SetXWRCalName("Sleep schedule")

	for _, s := range samples {
		ev := cal.AddEvent(s.UID())
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(s.Start.UTC())
		ev.SetEndAt(s.End.UTC())
		ev.SetSummary(s.Summary())
	}
	return []byte(cal.Serialize())
}

// FeedWriter mirrors computed windows into an .ics file, replacing the file
// on every write.
type FeedWriter struct {
	path string
	now  func() time.Time
}

func NewFeedWriter(path string) *FeedWriter {
	return &FeedWriter{path: path, now: time.Now}
}

func (w *FeedWriter) Name() string {
	return "ics_feed"
}

// ReplaceSleepSamples writes samples as the whole feed. The window is
// implied: the file only ever holds the latest pass.
func (w *FeedWriter) ReplaceSleepSamples(ctx context.Context, start, end time.Time, samples []schedule.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := config.WriteFileAtomic(w.path, RenderSleepFeed(samples, w.now())); err != nil {
		return err
	}
	appLog.Info("sleep feed written", "path", w.path, "samples", len(samples))
	return nil
}
