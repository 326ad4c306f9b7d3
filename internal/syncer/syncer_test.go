package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepcal/internal/engine"
	"sleepcal/internal/filter"
	"sleepcal/internal/model"
	"sleepcal/internal/rule"
	"sleepcal/internal/schedule"
	"sleepcal/internal/settings"
)

type listCall struct {
	start, end time.Time
	ids        []string
}

type fakeCalendar struct {
	mu     sync.Mutex
	events []model.Event
	err    error
	calls  []listCall
	// hook runs inside ListEvents before it returns.
	hook func(ctx context.Context)
}

func (c *fakeCalendar) ListEvents(ctx context.Context, start, end time.Time, ids []string) ([]model.Event, error) {
	c.mu.Lock()
	c.calls = append(c.calls, listCall{start, end, ids})
	hook, events, err := c.hook, c.events, c.err
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return events, err
}

func (c *fakeCalendar) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeGate struct {
	authorized bool
	requested  int
	deny       bool
	err        error
}

func (g *fakeGate) IsAuthorized() bool { return g.authorized }

func (g *fakeGate) RequestAccess(context.Context) (bool, error) {
	g.requested++
	if g.err != nil {
		return false, g.err
	}
	g.authorized = !g.deny
	return g.authorized, nil
}

type recordingSink struct {
	name    string
	err     error
	samples []schedule.Sample
	start   time.Time
	end     time.Time
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) ReplaceSleepSamples(_ context.Context, start, end time.Time, samples []schedule.Sample) error {
	s.start, s.end, s.samples = start, end, samples
	return s.err
}

var monday = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func flightEvent() model.Event {
	return model.Event{
		UID:          "ua1",
		Title:        "Flight UA1",
		CalendarID:   "travel",
		CalendarName: "Travel",
		Start:        time.Date(2025, 3, 4, 7, 0, 0, 0, time.UTC),
		End:          time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
	}
}

func testSettings() settings.Settings {
	s := settings.Default()
	s.Sync.LookAheadDays = 2
	s.Rules = []rule.EventRule{rule.New("Flights", "travel", 90,
		rule.Condition{Field: rule.FieldEventName, Op: rule.OpContains, Value: "flight"})}
	return s
}

type fixture struct {
	cal  *fakeCalendar
	gate *fakeGate
	repo *settings.MemoryRepository
	sink *recordingSink
	s    *Syncer
}

func newFixture(st settings.Settings) *fixture {
	f := &fixture{
		cal:  &fakeCalendar{events: []model.Event{flightEvent()}},
		gate: &fakeGate{authorized: true},
		repo: settings.NewMemoryRepository(st),
		sink: &recordingSink{name: "memory"},
	}
	f.s = New(Deps{
		Calendar: f.cal,
		Gate:     f.gate,
		Settings: f.repo,
		Sinks:    []Sink{f.sink},
		Location: time.UTC,
		Now:      func() time.Time { return monday },
	})
	return f
}

func TestRunPassPublishes(t *testing.T) {
	f := newFixture(testSettings())

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.SinkErr)
	assert.False(t, out.Skipped)
	require.NotNil(t, out.Result)
	assert.Same(t, out.Result, f.s.Current())

	res := out.Result
	assert.Equal(t, engine.ModeRules, res.Mode)
	assert.Equal(t, 2, res.Days)
	require.Len(t, res.Nights, 2)

	mon := res.Nights[0]
	require.True(t, mon.Adjusted())
	assert.Equal(t, "Flights", mon.Adjustment.RuleName)
	assert.Equal(t, time.Date(2025, 3, 3, 21, 30, 0, 0, time.UTC), mon.Adjustment.Adjusted.Bedtime)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 30, 0, 0, time.UTC), mon.Adjustment.Adjusted.Wake)
	assert.False(t, res.Nights[1].Adjusted())
	assert.Len(t, res.Adjusted(), 1)

	require.Len(t, f.cal.calls, 1)
	call := f.cal.calls[0]
	assert.Equal(t, []string{"travel"}, call.ids)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), call.start)
	assert.Equal(t, time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), call.end)

	require.Len(t, f.sink.samples, 2)
	assert.Equal(t, "Flight UA1", f.sink.samples[0].Title)
	assert.Equal(t, time.Date(2025, 3, 3, 21, 30, 0, 0, time.UTC), f.sink.start)
	assert.Equal(t, time.Date(2025, 3, 5, 6, 30, 0, 0, time.UTC), f.sink.end)
}

func TestRunPassSkipsWhenUnauthorized(t *testing.T) {
	f := newFixture(testSettings())
	f.gate.authorized = false

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Nil(t, out.Result)
	assert.Nil(t, f.s.Current())
	assert.Zero(t, f.cal.callCount())
	assert.Nil(t, f.sink.samples)
}

func TestRunPassDropsConcurrentTrigger(t *testing.T) {
	f := newFixture(testSettings())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.cal.hook = func(context.Context) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.s.RunPass(context.Background())
		done <- err
	}()

	<-entered
	_, err := f.s.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.cal.callCount())
	assert.NotNil(t, f.s.Current())

	// The slot frees up once the first pass is done.
	f.cal.hook = nil
	_, err = f.s.RunPass(context.Background())
	assert.NoError(t, err)
}

func TestRunPassFetchFailureKeepsPrevious(t *testing.T) {
	f := newFixture(testSettings())
	first, err := f.s.RunPass(context.Background())
	require.NoError(t, err)

	boom := errors.New("feed unreachable")
	f.cal.err = boom
	_, err = f.s.RunPass(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "list events")
	assert.Same(t, first.Result, f.s.Current())
}

func TestRunPassCanceledPublishesNothing(t *testing.T) {
	f := newFixture(testSettings())
	ctx, cancel := context.WithCancel(context.Background())
	f.cal.hook = func(context.Context) { cancel() }

	_, err := f.s.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.s.Current())
	assert.Nil(t, f.sink.samples)
}

func TestRunPassSinkFailureDoesNotInvalidate(t *testing.T) {
	f := newFixture(testSettings())
	bad := &recordingSink{name: "broken", err: errors.New("disk full")}
	good := &recordingSink{name: "good"}
	f.s = New(Deps{
		Calendar: f.cal,
		Gate:     f.gate,
		Settings: f.repo,
		Sinks:    []Sink{bad, good},
		Location: time.UTC,
		Now:      func() time.Time { return monday },
	})

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	require.Error(t, out.SinkErr)
	assert.Contains(t, out.SinkErr.Error(), "sink broken")
	assert.Same(t, out.Result, f.s.Current())
	assert.Len(t, good.samples, 2)
}

func TestRunPassAppliesFilters(t *testing.T) {
	st := testSettings()
	st.Filters = []filter.EventFilter{filter.New(filter.FieldEventName, filter.OpNotContains, "UA1")}
	f := newFixture(st)

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Result.Adjusted())
}

func TestRunPassDropsAllDayEvents(t *testing.T) {
	f := newFixture(testSettings())
	ev := flightEvent()
	ev.AllDay = true
	f.cal.events = []model.Event{ev}

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Result.Adjusted())
}

func TestRunPassWithoutRuleCalendarsSkipsFetch(t *testing.T) {
	st := testSettings()
	st.Rules = nil
	f := newFixture(st)

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.cal.callCount())
	require.Len(t, out.Result.Nights, 2)
	assert.Equal(t, schedule.SourceDefaultSchedule, out.Result.Nights[0].Source)
}

func TestRunPassBufferModeReadsAllCalendars(t *testing.T) {
	st := testSettings()
	st.Mode = engine.ModeBuffer
	st.BufferMinutes = 60
	f := newFixture(st)

	out, err := f.s.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, f.cal.calls, 1)
	assert.Nil(t, f.cal.calls[0].ids)
	assert.Equal(t, engine.ModeBuffer, out.Result.Mode)

	// 07:00 flight with a one hour buffer needs a 06:00 wake.
	adjusted := out.Result.Adjusted()
	require.Len(t, adjusted, 1)
	assert.Equal(t, time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC), adjusted[0].Adjustment.Adjusted.Bedtime)
	assert.Equal(t, time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC), adjusted[0].Adjustment.Adjusted.Wake)
}

func TestEnsureAccess(t *testing.T) {
	f := newFixture(testSettings())
	f.gate.authorized = false

	ok, err := f.s.EnsureAccess(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.gate.requested)

	ok, err = f.s.EnsureAccess(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.gate.requested, "already granted")
}

func TestSchedulerApply(t *testing.T) {
	f := newFixture(testSettings())
	sc := NewScheduler(f.s, time.UTC)

	sync := settings.SyncSettings{SyncTime: schedule.Clock(21, 0), Frequency: settings.EverySixHours}
	require.NoError(t, sc.Apply(sync))
	assert.Equal(t, "0 3,9,15,21 * * *", sc.Spec())
	require.NoError(t, sc.Apply(sync))
	assert.Len(t, sc.cron.Entries(), 1)

	sync.Frequency = settings.Daily
	require.NoError(t, sc.Apply(sync))
	assert.Equal(t, "0 21 * * *", sc.Spec())
	assert.Len(t, sc.cron.Entries(), 1)

	sync.Frequency = "hourly"
	assert.ErrorIs(t, sc.Apply(sync), settings.ErrInvalid)
	assert.Equal(t, "0 21 * * *", sc.Spec())
}

func TestSchedulerRunTriggersPass(t *testing.T) {
	f := newFixture(testSettings())
	sc := NewScheduler(f.s, time.UTC)
	sc.run()
	assert.NotNil(t, f.s.Current())
}

func TestSchedulerRetriesUndecidedAccess(t *testing.T) {
	f := newFixture(testSettings())
	f.gate.authorized = false
	f.gate.err = errors.New("feed unreachable")

	_, err := f.s.EnsureAccess(context.Background())
	require.Error(t, err)
	assert.True(t, f.s.AccessUndecided())

	sc := NewScheduler(f.s, time.UTC)
	sc.run()
	assert.Equal(t, 2, f.gate.requested)
	assert.Nil(t, f.s.Current(), "pass skipped while access is undecided")

	f.gate.err = nil
	sc.run()
	assert.Equal(t, 3, f.gate.requested)
	assert.False(t, f.s.AccessUndecided())
	assert.NotNil(t, f.s.Current())

	sc.run()
	assert.Equal(t, 3, f.gate.requested, "granted access is not re-requested")
}

func TestSchedulerDoesNotReaskAfterDenial(t *testing.T) {
	f := newFixture(testSettings())
	f.gate.authorized = false
	f.gate.deny = true

	ok, err := f.s.EnsureAccess(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.s.AccessUndecided())

	NewScheduler(f.s, time.UTC).run()
	assert.Equal(t, 1, f.gate.requested)
	assert.Nil(t, f.s.Current())
}
