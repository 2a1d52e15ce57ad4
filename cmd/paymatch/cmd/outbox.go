package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newOutboxCmd() *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Manage queued payment events",
	}

	var format string
	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Publish pending payment.approved events",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := parseOutputFormat(format)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutputFormat(format)

			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.orch.DispatchOutbox(cmd.Context())
			if err != nil {
				return err
			}
			if out == outputJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending %d, dispatched %d, failed %d\n",
				stats.Pending, stats.Dispatched, stats.Failed)
			return nil
		},
	}
	dispatchCmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json")

	outboxCmd.AddCommand(dispatchCmd)
	return outboxCmd
}
