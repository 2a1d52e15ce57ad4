package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newRetryCmd() *cobra.Command {
	var format string

	retryCmd := &cobra.Command{
		Use:   "retry <message-id>",
		Short: "Re-run extraction and matching for a stored message",
		Long: `Retry reconciles a stored message again, for example after a new bank
template was added or a payment request was imported late. A message that
already settled a request is reported as such and left untouched.`,
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

			result, err := a.orch.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out == outputJSON {
				return writeJSON(w, result)
			}
			printOutcome(w, &result.Outcome)
			fmt.Fprintf(w, "  bodies read: text=%t html=%t\n", result.TextBodyUsed, result.HTMLBodyUsed)
			return nil
		},
	}

	retryCmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json")
	return retryCmd
}
