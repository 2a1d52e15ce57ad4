package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/store"
)

// statusReport is the database overview printed by the status command
type statusReport struct {
	Messages          store.MessageCounts          `json:"messages"`
	Requests          map[models.PaymentStatus]int `json:"requests"`
	Attempts          int                          `json:"attempts"`
	UnmatchedAttempts int                          `json:"unmatched_attempts"`
	PendingEvents     int                          `json:"pending_events"`
}

func (c *cli) newStatusCmd() *cobra.Command {
	var format string

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show message, request and attempt totals",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := parseOutputFormat(format)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutputFormat(format)
			ctx := cmd.Context()

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var report statusReport
			if report.Messages, err = a.store.Messages.Counts(ctx); err != nil {
				return err
			}
			if report.Requests, err = a.store.Requests.StatusCounts(ctx); err != nil {
				return err
			}
			if report.Attempts, err = a.store.Attempts.Count(ctx, store.AttemptFilter{}); err != nil {
				return err
			}
			if report.UnmatchedAttempts, err = a.store.Attempts.Count(ctx, store.AttemptFilter{Result: models.ResultUnmatched}); err != nil {
				return err
			}
			pending, err := a.store.Outbox.Pending(ctx, 0)
			if err != nil {
				return err
			}
			report.PendingEvents = len(pending)

			w := cmd.OutOrStdout()
			if out == outputJSON {
				return writeJSON(w, report)
			}
			fmt.Fprintf(w, "messages: %d (%d matched, %d unmatched)\n",
				report.Messages.Total, report.Messages.Matched, report.Messages.Unmatched)
			fmt.Fprintln(w, "requests:")
			for _, s := range []models.PaymentStatus{
				models.StatusPending, models.StatusMatched, models.StatusApproved,
				models.StatusRejected, models.StatusExpired,
			} {
				fmt.Fprintf(w, "  %-9s %d\n", s, report.Requests[s])
			}
			fmt.Fprintf(w, "attempts: %d (%d unmatched)\n", report.Attempts, report.UnmatchedAttempts)
			fmt.Fprintf(w, "pending events: %d\n", report.PendingEvents)
			return nil
		},
	}

	statusCmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json")
	return statusCmd
}
