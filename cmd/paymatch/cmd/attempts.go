package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/reporter"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// attemptsOptions holds the flags of the attempts command
type attemptsOptions struct {
	result      string
	method      string
	requestID   string
	messageID   string
	search      string
	since       string
	until       string
	limit       int
	offset      int
	format      string
	output      string
	diagnostics bool
	maxItems    int
}

func (c *cli) newAttemptsCmd() *cobra.Command {
	opts := &attemptsOptions{}

	attemptsCmd := &cobra.Command{
		Use:   "attempts",
		Short: "Query the match attempt log",
		Long: `Attempts lists recorded reconciliation passes, newest first, with a summary
of match rate, extraction methods and the most common unmatched reasons.

--since and --until accept a timestamp (2024-01-15 or 2024-01-15T10:30:00Z)
or a duration counted back from now (24h, 90m).

Examples:
  paymatch attempts --result unmatched --since 24h
  paymatch attempts --request req-42 --diagnostics
  paymatch attempts --format csv --output attempts.csv`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := opts.filter(time.Now())
			if err != nil {
				return err
			}
			_, err = config.CreateReportConfig(opts.format, opts.diagnostics, opts.maxItems)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.GetGlobalLogger().WithComponent("attempts")

			filter, _ := opts.filter(time.Now())
			reportConfig, _ := config.CreateReportConfig(opts.format, opts.diagnostics, opts.maxItems)

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			attempts, err := a.store.Attempts.Query(ctx, filter)
			if err != nil {
				return err
			}
			report := reporter.NewAttemptReport(attempts, time.Now().UTC())

			generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
			if err != nil {
				return err
			}
			if opts.output == "" {
				return generator.GenerateReportSafely(report, cmd.OutOrStdout())
			}
			written, err := generator.WriteFile(report, opts.output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d attempt(s) written to %s\n", len(attempts), written)
			return nil
		},
	}

	flags := attemptsCmd.Flags()
	flags.StringVar(&opts.result, "result", "", "matched or unmatched")
	flags.StringVar(&opts.method, "method", "", "extraction method: template, htmlTable, htmlText, renderedText, fallback")
	flags.StringVar(&opts.requestID, "request", "", "only attempts that matched this payment request")
	flags.StringVar(&opts.messageID, "message", "", "only attempts for this message")
	flags.StringVar(&opts.search, "search", "", "text in the reason, subject, sender, names or reference")
	flags.StringVar(&opts.since, "since", "", "only attempts at or after this time")
	flags.StringVar(&opts.until, "until", "", "only attempts before this time")
	flags.IntVar(&opts.limit, "limit", 100, "maximum number of attempts (0 for all)")
	flags.IntVar(&opts.offset, "offset", 0, "number of attempts to skip, with --limit")
	flags.StringVarP(&opts.format, "format", "f", "console", "output format: console, json, csv")
	flags.StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of stdout")
	flags.BoolVar(&opts.diagnostics, "diagnostics", false, "include extraction diagnostics")
	flags.IntVar(&opts.maxItems, "max-items", 0, "maximum attempts shown in console output (0 for all)")

	return attemptsCmd
}

// filter validates the options and builds the store query
func (o *attemptsOptions) filter(now time.Time) (store.AttemptFilter, error) {
	f := store.AttemptFilter{
		Result:    models.MatchResult(o.result),
		Method:    models.ExtractionMethod(o.method),
		RequestID: o.requestID,
		MessageID: o.messageID,
		Search:    o.search,
		Limit:     o.limit,
		Offset:    o.offset,
	}

	switch f.Result {
	case "", models.ResultMatched, models.ResultUnmatched:
	default:
		return f, errors.ValidationError(errors.CodeInvalidConfig, "result", o.result, nil).
			WithSuggestion("use --result matched or --result unmatched")
	}
	if f.Method != "" && !f.Method.IsValid() {
		return f, errors.ValidationError(errors.CodeInvalidConfig, "method", o.method, nil).
			WithSuggestion("methods are template, htmlTable, htmlText, renderedText or fallback")
	}
	if o.limit < 0 || o.offset < 0 {
		return f, errors.ValidationError(errors.CodeInvalidConfig, "limit", fmt.Sprintf("%d/%d", o.limit, o.offset), nil).
			WithSuggestion("limit and offset cannot be negative")
	}

	var err error
	if f.Since, err = parseTimeFlag("since", o.since, now); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeFlag("until", o.until, now); err != nil {
		return f, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return f, errors.ValidationError(errors.CodeInvalidConfig, "since", o.since, nil).
			WithSuggestion("--since must be earlier than --until")
	}
	return f, nil
}

// parseTimeFlag accepts a timestamp or a duration before now; blank is zero
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	t, err := models.ParseTimeWithFormats(value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidConfig, name, value, err).
			WithSuggestion("use a timestamp such as 2024-01-15T10:30:00Z or a duration such as 24h")
	}
	return t, nil
}
