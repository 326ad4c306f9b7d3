package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sleepcal/internal/engine"
	"sleepcal/internal/filter"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/metrics"
	"sleepcal/internal/model"
	"sleepcal/internal/schedule"
	"sleepcal/internal/settings"
)

// ErrPassInProgress is returned when a pass is triggered while another is
// still running. The trigger is dropped, not queued.
var ErrPassInProgress = errors.New("sync pass already in progress")

// CalendarSource reads timed and all-day events. An empty calendarIDs means
// every calendar.
type CalendarSource interface {
	ListEvents(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error)
}

// AccessGate reports and requests permission to read calendars.
type AccessGate interface {
	IsAuthorized() bool
	RequestAccess(ctx context.Context) (bool, error)
}

// Sink receives the computed sleep windows after each pass.
type Sink interface {
	ReplaceSleepSamples(ctx context.Context, start, end time.Time, samples []schedule.Sample) error
}

// Result is one published schedule.
type Result struct {
	Mode     engine.Mode      `json:"mode"`
	From     time.Time        `json:"from"`
	Days     int              `json:"days"`
	Nights   []schedule.Night `json:"nights"`
	SyncedAt time.Time        `json:"synced_at"`
}

// Adjusted is the nights with an event-driven adjustment.
func (r *Result) Adjusted() []schedule.Night {
	return engine.OnlyAdjusted(r.Nights)
}

// Outcome describes a finished pass. Result is nil when the pass was
// skipped. SinkErr joins every sink failure; it never invalidates Result.
type Outcome struct {
	Result  *Result
	Skipped bool
	SinkErr error
}

type Deps struct {
	Calendar CalendarSource
	Gate     AccessGate
	Settings settings.Repository
	Sinks    []Sink

	// Location is the zone nights are computed in. Nil means time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Syncer runs fetch, filter, plan, publish and mirror passes. At most one
// pass runs at a time and readers always see a complete result.
type Syncer struct {
	deps    Deps
	running atomic.Bool
	current atomic.Pointer[Result]
	// undecided is set while the last access request failed without a
	// grant or a denial.
	undecided atomic.Bool
}

func New(d Deps) *Syncer {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Syncer{deps: d}
}

// Current returns the last published result, or nil before the first
// successful pass.
func (s *Syncer) Current() *Result {
	return s.current.Load()
}

// EnsureAccess requests calendar access unless it is already granted. When
// the request errors without a decision, AccessUndecided reports true until
// a later request decides.
func (s *Syncer) EnsureAccess(ctx context.Context) (bool, error) {
	if s.deps.Gate.IsAuthorized() {
		s.undecided.Store(false)
		return true, nil
	}
	granted, err := s.deps.Gate.RequestAccess(ctx)
	s.undecided.Store(err != nil && !granted)
	return granted, err
}

func (s *Syncer) AccessUndecided() bool {
	return s.undecided.Load()
}

// RunPass runs one pass.
//
//   - Another pass running: ErrPassInProgress.
//   - Not authorized: Outcome{Skipped: true}, nil. The previous result stays.
//   - Settings, fetch or context failure: error, nothing published.
//   - Otherwise the new result is published before sinks run; sink failures
//     are reported in Outcome.SinkErr.
func (s *Syncer) RunPass(ctx context.Context) (Outcome, error) {
	start := time.Now()
	if !s.running.CompareAndSwap(false, true) {
		metrics.ObservePass(metrics.PassBusy, start)
		return Outcome{}, ErrPassInProgress
	}
	defer s.running.Store(false)

	out, err := s.runPass(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ObservePass(metrics.PassCanceled, start)
		appLog.Warn("sync pass canceled", "err", err.Error())
	case err != nil:
		metrics.ObservePass(metrics.PassFailed, start)
		appLog.Error("sync pass failed", err)
	case out.Skipped:
		metrics.ObservePass(metrics.PassSkipped, start)
	default:
		metrics.ObservePass(metrics.PassOK, start)
	}
	return out, err
}

func (s *Syncer) runPass(ctx context.Context) (Outcome, error) {
	if !s.deps.Gate.IsAuthorized() {
		appLog.Info("sync pass skipped; calendar access not granted")
		return Outcome{Skipped: true}, nil
	}

	st, err := s.deps.Settings.Load(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load settings: %w", err)
	}

	now := s.deps.Now().In(s.deps.Location)
	days := st.Sync.LookAheadDays
	windowStart, windowEnd := engine.FetchWindow(now, days)

	events, err := s.fetch(ctx, st, windowStart, windowEnd)
	if err != nil {
		return Outcome{}, err
	}
	events = filter.Apply(st.Filters, model.DropAllDay(events))

	nights := engine.NewPlanner(st.Policy()).Plan(now, days, events)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	res := &Result{
		Mode:     st.Mode,
		From:     schedule.StartOfDay(now),
		Days:     days,
		Nights:   nights,
		SyncedAt: s.deps.Now(),
	}
	s.current.Store(res)

	adjusted := len(res.Adjusted())
	metrics.ObservePublished(adjusted, res.SyncedAt)
	appLog.Info("schedule published", "mode", st.Mode, "nights", len(nights), "adjusted", adjusted, "events", len(events))

	return Outcome{Result: res, SinkErr: s.mirror(ctx, nights)}, nil
}

func (s *Syncer) fetch(ctx context.Context, st settings.Settings, start, end time.Time) ([]model.Event, error) {
	var ids []string
	if st.Mode != engine.ModeBuffer {
		// Rules only ever match events from their own calendar.
		ids = st.CalendarIDs()
		if len(ids) == 0 {
			appLog.Debug("no enabled rule references a calendar; fetch skipped")
			return nil, nil
		}
	}
	events, err := s.deps.Calendar.ListEvents(ctx, start, end, ids)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Syncer) mirror(ctx context.Context, nights []schedule.Night) error {
	samples, start, end, ok := schedule.Samples(nights)
	if !ok || len(s.deps.Sinks) == 0 {
		return nil
	}

	var errs []error
	for i, sink := range s.deps.Sinks {
		name := sinkName(sink, i)
		if err := sink.ReplaceSleepSamples(ctx, start, end, samples); err != nil {
			appLog.Error("sink write failed", err, "sink", name)
			metrics.ObserveSinkError(name)
			errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sinkName(sink Sink, i int) string {
	if n, ok := sink.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("sink%d", i)
}
