package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// maxListedErrors caps FormatValidationErrors output
const maxListedErrors = 10

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	w       io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a CLI error handler writing to w
func NewCLIErrorHandler(w io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		w:       w,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.w, "Error: %s\n", err.Message)
	if err.Details != "" {
		fmt.Fprintf(h.w, "\n%s\n", err.Details)
	}

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.w, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.w, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.w, "\nSuggestion: %s\n", err.Suggestion)
	}

	if h.verbose {
		fmt.Fprintf(h.w, "\n%s\n", getCategoryHelp(err.Category))
		if err.Cause != nil {
			fmt.Fprintf(h.w, "\nUnderlying error: %v\n", err.Cause)
		}
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.w, "Error: File not found\n")
		fmt.Fprintf(h.w, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.w, "Error: Permission denied\n")
		fmt.Fprintf(h.w, "Suggestion: Check permissions on the input files and the database\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.w, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.w, "Suggestion: Free up disk space and try again\n")
		return 5
	}

	// cobra argument and flag errors end up here
	fmt.Fprintf(h.w, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.w, "\nRun with --help for usage or --verbose for more detail\n")
	}
	return 1
}

func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryInput:
		return `Input error help:
• Message files must be RFC 822 (.eml) or JSON ingest records (.json, .jsonl)
• Every message needs a text or an HTML body
• Use 'paymatch ingest --help' for the accepted layouts`

	case errors.CategoryExtraction:
		return `Extraction error help:
• Add a bank template for the sender with templates.files in the config file
• Inspect what was read with 'paymatch attempts --message <id> --diagnostics'
• Re-run the message with 'paymatch retry <message-id>'`

	case errors.CategoryMatching:
		return `Matching error help:
• Check the request is still pending with 'paymatch requests list'
• Review recent attempts with 'paymatch attempts --result unmatched'
• Adjust matching.name_similarity_threshold or matching.max_time_diff_minutes`

	case errors.CategoryStorage:
		return `Storage error help:
• Check the database path (--database) is writable
• Make sure no other process holds a long write lock on the file
• Raise database.busy_timeout for busy databases`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Amounts must be positive decimals such as 5000.00
• Requests move pending→matched→approved, pending→expired or matched→rejected`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• PAYMATCH_ environment variables override the config file
• Try running with default settings first`

	default:
		return `For more help:
• Use 'paymatch --help' for general help
• Use 'paymatch <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return stderrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatValidationErrors formats row errors in a user-friendly way
func FormatValidationErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return fmt.Sprintf("Validation error: %v", errs[0])
	}

	lines := []string{fmt.Sprintf("Found %d validation errors:", len(errs))}
	for i, err := range errs {
		if i == maxListedErrors {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-maxListedErrors))
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
	}
	return strings.Join(lines, "\n")
}
