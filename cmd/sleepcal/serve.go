package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/settings"
	"sleepcal/internal/syncer"
	"sleepcal/internal/web"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run periodic syncs and the HTTP API",
		Long: `Request calendar access if needed, run a first sync pass, then keep
syncing on the schedule from the settings file while serving the HTTP API.
Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, listen string) error {
	a, err := openApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close()

	if listen != "" {
		a.cfg.Listen = listen
	}

	if err := a.ensureAccess(ctx); err != nil {
		// Feeds may be down at boot; the gate stays closed until "grant".
		appLog.Error("calendar access check failed", err)
	}

	if _, err := a.syncer.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("initial sync pass failed", err)
	}

	st, err := a.settings.Load(ctx)
	if err != nil {
		return err
	}
	sched := syncer.NewScheduler(a.syncer, a.loc)
	if err := sched.Apply(st.Sync); err != nil {
		return err
	}
	sched.Start(ctx)
	appLog.Info("sync scheduler started", "cron", sched.Spec(), "next", sched.Next())

	srv := web.NewServer(web.Deps{
		Config:    a.cfg,
		Syncer:    a.syncer,
		Calendars: a.gate,
		Settings:  a.settings,
		Samples:   a.store,
		OnSettingsSaved: func(s settings.Settings) error {
			return sched.Apply(s.Sync)
		},
	})
	serveErr := srv.Serve(ctx)

	appLog.Info("shutting down; waiting for running sync pass")
	<-sched.Stop().Done()
	appLog.Info("sleepcal exiting")
	return serveErr
}
