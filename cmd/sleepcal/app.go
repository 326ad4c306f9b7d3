package main

import (
	"context"
	"fmt"
	"time"

	"sleepcal/internal/config"
	"sleepcal/internal/healthstore"
	"sleepcal/internal/ics"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/settings"
	"sleepcal/internal/syncer"
)

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	store    *healthstore.Store
	settings *settings.FileRepository
	gate     *ics.Gate
	syncer   *syncer.Syncer
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := healthstore.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open sample store: %w", err)
	}

	sources := make([]ics.Source, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL})
	}
	fetcher := ics.NewFetcher(cfg.CacheDir(), nil)

	gate, err := ics.NewGate(ctx, fetcher, sources, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	sinks := []syncer.Sink{store}
	if cfg.FeedPath != "" {
		sinks = append(sinks, ics.NewFeedWriter(cfg.FeedPath))
	}

	repo := settings.NewFileRepository(cfg.ResolvedSettingsPath())
	s := syncer.New(syncer.Deps{
		Calendar: ics.NewCalendar(fetcher, sources, loc),
		Gate:     gate,
		Settings: repo,
		Sinks:    sinks,
		Location: loc,
	})

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"data_dir", cfg.DataDir,
		"settings", repo.Path(),
		"calendars", len(sources),
		"feed", cfg.FeedPath,
	)

	return &app{cfg: cfg, loc: loc, store: store, settings: repo, gate: gate, syncer: s}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("close sample store", err)
	}
}

// ensureAccess requests calendar access when it has not been granted yet.
// A denial is logged, not returned; passes then skip until access is granted.
func (a *app) ensureAccess(ctx context.Context) error {
	granted, err := a.syncer.EnsureAccess(ctx)
	if err != nil {
		return fmt.Errorf("request calendar access: %w", err)
	}
	if !granted {
		appLog.Warn("calendar access denied; sync passes will be skipped")
	}
	return nil
}
