package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
)

func (c *cli) newIngestCmd() *cobra.Command {
	var format string

	ingestCmd := &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Reconcile notification emails against pending payment requests",
		Long: `Ingest loads notification messages and runs one reconciliation pass per
message. Directories are searched for .eml, .json, .jsonl and .ndjson files.

A message that was stored before is reported as a duplicate and not matched
again. Files that cannot be decoded are listed and the command exits non-zero.

Examples:
  paymatch ingest inbox/
  paymatch ingest alert.eml --merchant merchant-1
  paymatch ingest export.jsonl --format json`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				if _, err := os.Stat(p); err != nil {
					return errors.InputError(errors.CodeUnreadableFile, p, err)
				}
			}
			_, err := parseOutputFormat(format)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutputFormat(format)
			ctx := cmd.Context()

			c.setFromFlag(cmd, "merchant", "messages.merchant_id")
			c.setFromFlag(cmd, "channel", "messages.channel")
			msgConfig, err := config.CreateMessageConfig(c.v)
			if err != nil {
				return err
			}
			files, err := parsers.LoadFiles(ctx, args, msgConfig)
			if err != nil {
				return err
			}
			inputs, origins, fileErrs := parsers.Inputs(files)

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.orch.IngestBatch(ctx, inputs)

			w := cmd.OutOrStdout()
			if out == outputJSON {
				report := struct {
					*reconciler.BatchResult
					Files      int      `json:"files"`
					FileErrors []string `json:"file_errors,omitempty"`
				}{BatchResult: result, Files: len(files)}
				for _, e := range fileErrs {
					report.FileErrors = append(report.FileErrors, e.Error())
				}
				if err := writeJSON(w, report); err != nil {
					return err
				}
			} else {
				for _, item := range result.Items {
					fmt.Fprintf(w, "%s\n", origins[item.Index])
					if item.Err != nil {
						fmt.Fprintf(w, "  error: %v\n", item.Err)
						continue
					}
					printOutcome(w, item.Outcome)
				}
				for _, e := range fileErrs {
					fmt.Fprintf(w, "skipped: %v\n", e)
				}
				printCounts(cmd, len(files), result)
			}

			if failed := len(result.Failed()) + len(fileErrs); failed > 0 {
				return errors.New(errors.CategoryInput, errors.CodeUnreadableFile,
					fmt.Sprintf("%d of %d messages could not be processed", failed, len(inputs)+len(fileErrs))).
					WithSuggestion("run with --verbose to see the failing messages in the log")
			}
			return nil
		},
	}

	flags := ingestCmd.Flags()
	flags.StringVarP(&format, "format", "f", "text", "output format: text, json")
	flags.String("merchant", "", "merchant scope for messages without a merchant header")
	flags.String("channel", "", "receiving channel for messages without a recipient")

	return ingestCmd
}

func printCounts(cmd *cobra.Command, files int, result *reconciler.BatchResult) {
	labels := make([]string, 0, len(result.Counts))
	for label := range result.Counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%d file(s), %d message(s) in %s\n", files, len(result.Items), result.Duration.Round(1e6))
	for _, label := range labels {
		fmt.Fprintf(w, "  %-16s %d\n", label, result.Counts[label])
	}
}
