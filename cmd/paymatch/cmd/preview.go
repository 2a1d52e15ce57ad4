package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

func (c *cli) newPreviewCmd() *cobra.Command {
	var (
		requestsFile string
		format       string
	)

	previewCmd := &cobra.Command{
		Use:   "preview <file|dir>...",
		Short: "Show how messages would match a request export, without a database",
		Long: `Preview extracts each message and scores it against the payment requests
in a CSV export. Nothing is stored and no request changes status, which makes
it suitable for trying new bank templates or matching settings.

Examples:
  paymatch preview --requests requests.csv inbox/
  paymatch preview --requests requests.csv alert.eml --format json`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if requestsFile == "" {
				return errors.ValidationError(errors.CodeMissingField, "requests", requestsFile, nil).
					WithSuggestion("give the request export with --requests")
			}
			for _, p := range append([]string{requestsFile}, args...) {
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
			log := logger.GetGlobalLogger()

			parserConfig, err := config.CreateRequestParserConfig(c.v)
			if err != nil {
				return err
			}
			parser, err := parsers.NewRequestParser(parserConfig)
			if err != nil {
				return err
			}
			requests, _, err := parser.ParseFile(ctx, requestsFile)
			if err != nil {
				return err
			}

			matchingConfig, err := config.CreateMatchingConfig(c.v)
			if err != nil {
				return err
			}
			registry, err := config.CreateRegistry(c.v)
			if err != nil {
				return err
			}
			index := matcher.NewRequestIndex(requests)
			stats := index.Stats()
			log.WithFields(logger.Fields{
				"requests":  stats.TotalRequests,
				"merchants": stats.Merchants,
				"accounts":  stats.Accounts,
			}).Debug("request index built")
			previewer, err := reconciler.NewPreviewer(
				extractor.New(registry, log.WithComponent("extractor")),
				matcher.NewEngine(matchingConfig, log.WithComponent("matcher")),
				index,
			)
			if err != nil {
				return err
			}

			c.setFromFlag(cmd, "merchant", "messages.merchant_id")
			msgConfig, err := config.CreateMessageConfig(c.v)
			if err != nil {
				return err
			}
			files, err := parsers.LoadFiles(ctx, args, msgConfig)
			if err != nil {
				return err
			}
			inputs, origins, fileErrs := parsers.Inputs(files)

			type previewItem struct {
				File    string              `json:"file"`
				Preview *reconciler.Preview `json:"preview,omitempty"`
				Error   string              `json:"error,omitempty"`
			}
			items := make([]previewItem, 0, len(inputs))
			for i, in := range inputs {
				item := previewItem{File: origins[i]}
				if item.Preview, err = previewer.Preview(ctx, in); err != nil {
					item.Error = err.Error()
				}
				items = append(items, item)
			}

			w := cmd.OutOrStdout()
			if out == outputJSON {
				if err := writeJSON(w, items); err != nil {
					return err
				}
			} else {
				for _, item := range items {
					fmt.Fprintf(w, "%s\n", item.File)
					if item.Error != "" {
						fmt.Fprintf(w, "  error: %s\n", item.Error)
						continue
					}
					p := item.Preview
					if p.Extracted != nil {
						fmt.Fprintf(w, "  extracted: amount=%s name=%q method=%s\n",
							p.Extracted.Amount.StringFixed(2), p.Extracted.Name(), p.Extracted.Method)
					}
					fmt.Fprintf(w, "  matched=%t %s\n", p.Matched, p.Reason)
					for _, warning := range p.Warnings {
						fmt.Fprintf(w, "  warning: %s\n", warning)
					}
				}
				for _, e := range fileErrs {
					fmt.Fprintf(w, "skipped: %v\n", e)
				}
			}

			if len(fileErrs) > 0 {
				return errors.New(errors.CategoryInput, errors.CodeUnreadableFile,
					fmt.Sprintf("%d file(s) could not be read", len(fileErrs)))
			}
			return nil
		},
	}

	flags := previewCmd.Flags()
	flags.StringVar(&requestsFile, "requests", "", "CSV export of payment requests (required)")
	flags.StringVarP(&format, "format", "f", "text", "output format: text, json")
	flags.String("merchant", "", "merchant scope for messages without a merchant header")

	return previewCmd
}
