package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sleepcal",
		Short: "Calendar-aware sleep schedule planner",
		Long: `sleepcal reads ICS calendars, moves bedtime around early events
according to your rules, and publishes the resulting nights over HTTP, as an
.ics feed and into a local sleep-sample database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/sleepcal/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newOnceCommand(opts))
	cmd.AddCommand(newGrantCommand(opts))
	return cmd
}
