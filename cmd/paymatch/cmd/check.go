package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newCheckCmd() *cobra.Command {
	var format string

	checkCmd := &cobra.Command{
		Use:   "check <request-id>",
		Short: "Look for a recent unmatched message that settles a request",
		Long: `Check answers a payer asking whether their transfer arrived. Unmatched
messages of the request's merchant received since shortly before the request
was created (reconciler.status_check_lookback) are reconciled again, oldest
first, until one settles the request.`,
		Args: cobra.ExactArgs(1),
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

			result, err := a.orch.CheckRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out == outputJSON {
				return writeJSON(w, result)
			}
			fmt.Fprintf(w, "request %s: %s\n", result.Request.ID, result.Request.Status)
			fmt.Fprintf(w, "  scanned %d message(s): %s\n", result.Scanned, result.Reason)
			for _, o := range result.Outcomes {
				printOutcome(w, o)
			}
			return nil
		},
	}

	checkCmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json")
	return checkCmd
}
