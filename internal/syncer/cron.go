package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/settings"
)

// Scheduler triggers passes on the cron schedule derived from the sync
// settings. Apply swaps the schedule in place when settings change.
type Scheduler struct {
	syncer *Syncer
	cron   *cron.Cron

	mu    sync.Mutex
	ctx   context.Context
	entry cron.EntryID
	spec  string
}

func NewScheduler(s *Syncer, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		syncer: s,
		cron:   cron.New(cron.WithLocation(loc)),
		ctx:    context.Background(),
	}
}

// Apply installs the schedule for sync, replacing any previous one. Applying
// an unchanged schedule is a no-op.
func (sc *Scheduler) Apply(sync settings.SyncSettings) error {
	spec, err := sync.CronSpec()
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if spec == sc.spec {
		return nil
	}

	id, err := sc.cron.AddFunc(spec, sc.run)
	if err != nil {
		return err
	}
	if sc.spec != "" {
		sc.cron.Remove(sc.entry)
	}
	sc.entry, sc.spec = id, spec
	appLog.Info("sync schedule set", "cron", spec, "frequency", sync.Frequency)
	return nil
}

// Spec is the active cron expression; empty before the first Apply.
func (sc *Scheduler) Spec() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.spec
}

// Next is the next scheduled run; zero when nothing is scheduled or the
// scheduler is not started.
func (sc *Scheduler) Next() time.Time {
	sc.mu.Lock()
	id := sc.entry
	sc.mu.Unlock()
	return sc.cron.Entry(id).Next
}

// Start runs scheduled passes under ctx until Stop.
func (sc *Scheduler) Start(ctx context.Context) {
	sc.mu.Lock()
	sc.ctx = ctx
	sc.mu.Unlock()
	sc.cron.Start()
}

// Stop stops triggering passes and returns a context that is done once a
// running pass has finished.
func (sc *Scheduler) Stop() context.Context {
	return sc.cron.Stop()
}

func (sc *Scheduler) run() {
	sc.mu.Lock()
	ctx := sc.ctx
	sc.mu.Unlock()

	if sc.syncer.AccessUndecided() {
		if _, err := sc.syncer.EnsureAccess(ctx); err != nil {
			appLog.Error("calendar access check failed", err)
		}
	}

	_, err := sc.syncer.RunPass(ctx)
	if errors.Is(err, ErrPassInProgress) {
		appLog.Info("scheduled sync dropped; pass already running")
	}
}
