package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/pkg/errors"
)

func (c *cli) newRequestsCmd() *cobra.Command {
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "Import and manage payment requests",
	}
	requestsCmd.AddCommand(
		c.newRequestsImportCmd(),
		c.newRequestsListCmd(),
		c.newRequestsApproveCmd(),
		c.newRequestsRejectCmd(),
		c.newRequestsExpireCmd(),
	)
	return requestsCmd
}

func (c *cli) newRequestsImportCmd() *cobra.Command {
	var strict bool

	importCmd := &cobra.Command{
		Use:   "import <csv-file>",
		Short: "Import pending payment requests from a CSV file",
		Long: `Import reads payment requests from CSV. Expected columns are id, reference,
merchant_id, amount, payer_name, account_number, created_at and expires_at;
use requests.column_aliases in the config file to map other header names.

Requests whose id already exists are skipped. Invalid rows are reported and
skipped unless --strict is given, in which case nothing is imported.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return errors.Wrap(err, errors.CategoryInput, errors.CodeUnreadableFile,
					fmt.Sprintf("cannot read request file: %s", args[0]))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parserConfig, err := config.CreateRequestParserConfig(c.v)
			if err != nil {
				return err
			}
			parser, err := parsers.NewRequestParser(parserConfig)
			if err != nil {
				return err
			}
			requests, stats, err := parser.ParseFile(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if stats.ErrorCount > 0 {
				errs := make([]error, len(stats.Errors))
				for i, perr := range stats.Errors {
					errs[i] = perr
				}
				fmt.Fprintln(w, FormatValidationErrors(errs))
			}
			if strict && stats.ErrorCount > 0 {
				return errors.New(errors.CategoryValidation, errors.CodeMissingField,
					fmt.Sprintf("%d invalid row(s) in %s", stats.ErrorCount, args[0])).
					WithSuggestion("fix the rows above or run without --strict to skip them")
			}

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inserted, err := a.store.Requests.Import(ctx, requests)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "imported %d of %d request(s), %d already present, %d invalid\n",
				inserted, stats.RecordsParsed, len(requests)-inserted, stats.ErrorCount)
			return nil
		},
	}

	importCmd.Flags().BoolVar(&strict, "strict", false, "import nothing if any row is invalid")
	return importCmd
}

func (c *cli) newRequestsListCmd() *cobra.Command {
	var (
		status   string
		merchant string
		limit    int
		format   string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List payment requests, newest first",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !models.PaymentStatus(status).IsValid() {
				return errors.ValidationError(errors.CodeInvalidConfig, "status", status, nil).
					WithSuggestion("statuses are pending, matched, approved, rejected or expired")
			}
			if limit < 0 {
				return errors.ValidationError(errors.CodeInvalidConfig, "limit", limit, nil)
			}
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

			requests, err := a.store.Requests.List(ctx, store.RequestFilter{
				Status:     models.PaymentStatus(status),
				MerchantID: merchant,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if out == outputJSON {
				return writeJSON(cmd.OutOrStdout(), requests)
			}
			printRequests(cmd, requests)
			return nil
		},
	}

	flags := listCmd.Flags()
	flags.StringVar(&status, "status", "", "only requests in this status")
	flags.StringVar(&merchant, "merchant", "", "only requests of this merchant")
	flags.IntVar(&limit, "limit", 50, "maximum number of requests (0 for all)")
	flags.StringVarP(&format, "format", "f", "text", "output format: text, json")
	return listCmd
}

func (c *cli) newRequestsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a matched request and credit the merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.orch.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "request %s: %s\n", result.Request.ID, result.Request.Status)
			if result.Balance != nil {
				fmt.Fprintf(w, "  merchant %s balance: %s\n", result.Balance.MerchantID, result.Balance.Available.StringFixed(2))
			}
			return nil
		},
	}
}

func (c *cli) newRequestsRejectCmd() *cobra.Command {
	var reason string

	rejectCmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a matched request",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return errors.ValidationError(errors.CodeMissingField, "reason", reason, nil).
					WithSuggestion("give the rejection reason with --reason")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.orch.Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %s: %s (%s)\n", req.ID, req.Status, req.RejectionReason)
			return nil
		},
	}

	rejectCmd.Flags().StringVar(&reason, "reason", "", "why the payment was rejected (required)")
	return rejectCmd
}

func (c *cli) newRequestsExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire pending requests past their expiry time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.orch.ExpireDue(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, req := range expired {
				fmt.Fprintf(w, "expired %s (%s)\n", req.ID, req.Reference)
			}
			fmt.Fprintf(w, "%d request(s) expired\n", len(expired))
			return nil
		},
	}
}

func printRequests(cmd *cobra.Command, requests []*models.PaymentRequest) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREFERENCE\tMERCHANT\tAMOUNT\tSTATUS\tCREATED")
	for _, req := range requests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.Reference, req.MerchantID, req.Amount.StringFixed(2), req.Status,
			req.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}
