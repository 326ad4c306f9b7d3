package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newOnceCommand(root *rootOptions) *cobra.Command {
	var adjustedOnly bool

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single sync pass and print the schedule as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ensureAccess(ctx); err != nil {
				return err
			}

			out, err := a.syncer.RunPass(ctx)
			if err != nil {
				return err
			}
			if out.Skipped {
				return errors.New("calendar access not granted; run \"sleepcal grant\"")
			}

			res := *out.Result
			if adjustedOnly {
				res.Nights = res.Adjusted()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return out.SinkErr
		},
	}
	cmd.Flags().BoolVar(&adjustedOnly, "adjusted", false, "print only nights with an adjustment")
	return cmd
}
