package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGrantCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grant",
		Short: "Probe every configured calendar and record whether access is granted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			granted, err := a.gate.RequestAccess(ctx)
			w := cmd.OutOrStdout()
			if !granted && err != nil {
				fmt.Fprintln(w, "calendar access: undecided")
				return err
			}
			if !granted {
				fmt.Fprintln(w, "calendar access: denied")
				return err
			}
			fmt.Fprintln(w, "calendar access: granted")
			for _, c := range a.gate.Calendars() {
				fmt.Fprintf(w, "  %s\t%s\n", c.ID, c.Name)
			}
			return err
		},
	}
}
