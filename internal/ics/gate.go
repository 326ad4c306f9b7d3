package ics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	appLog "sleepcal/internal/log"
)

const accessKey = "calendar_access"

// KV persists small string values.
type KV interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Gate tracks whether the configured feeds may be read. Access is granted
// by RequestAccess, which probes every feed, and the decision survives
// restarts through the KV store.
type Gate struct {
	fetcher    *Fetcher
	sources    []Source
	kv         KV
	authorized atomic.Bool
}

// NewGate restores the persisted decision. A missing record means not
// authorized.
func NewGate(ctx context.Context, fetcher *Fetcher, sources []Source, kv KV) (*Gate, error) {
	g := &Gate{fetcher: fetcher, sources: sources, kv: kv}
	v, ok, err := kv.GetSetting(ctx, accessKey)
	if err != nil {
		return nil, fmt.Errorf("load calendar access: %w", err)
	}
	g.authorized.Store(ok && v == "granted")
	return g, nil
}

func (g *Gate) IsAuthorized() bool {
	return g.authorized.Load()
}

// RequestAccess probes every feed. A 401/403 from any of them is a denial:
// the gate closes, the decision is persisted and RequestAccess returns
// (false, nil). Failures without a 401/403 are not a decision; the gate and
// the stored value are left as they were and (false, err) is returned so
// the caller can ask again later.
func (g *Gate) RequestAccess(ctx context.Context) (bool, error) {
	var probeErr error
	denied := false
	for _, src := range g.sources {
		if err := g.fetcher.Probe(ctx, src); err != nil {
			var serr *StatusError
			if errors.As(err, &serr) && serr.Denied() {
				appLog.Warn("calendar access denied", "id", src.ID, "url", redactURL(src.URL), "status", serr.Code)
				denied = true
				continue
			}
			probeErr = errors.Join(probeErr, fmt.Errorf("calendar %q: %w", src.ID, err))
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if probeErr != nil && !denied {
		appLog.Warn("calendar access undecided; feeds unreachable", "err", probeErr.Error())
		return false, probeErr
	}
	if probeErr != nil {
		appLog.Warn("other calendar feeds failed during denied access check", "err", probeErr.Error())
	}
	granted := !denied

	g.authorized.Store(granted)
	value := "denied"
	if granted {
		value = "granted"
	}
	if err := g.kv.SetSetting(ctx, accessKey, value); err != nil {
		return granted, fmt.Errorf("persist calendar access: %w", err)
	}
	appLog.Info("calendar access decided", "granted", granted, "calendars", len(g.sources))
	return granted, nil
}

// Calendars lists the subscriptions, but only once access is granted.
func (g *Gate) Calendars() []CalendarInfo {
	if !g.IsAuthorized() {
		return []CalendarInfo{}
	}
	out := make([]CalendarInfo, 0, len(g.sources))
	for _, s := range g.sources {
		out = append(out, CalendarInfo{ID: s.ID, Name: s.Name})
	}
	return out
}
