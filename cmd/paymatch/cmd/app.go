package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// app is the wired component graph a command works with
type app struct {
	store  *store.Store
	orch   *reconciler.Orchestrator
	logger logger.Logger
}

// openApp opens the database and wires the orchestrator from configuration
func (c *cli) openApp(ctx context.Context) (*app, error) {
	storeConfig, err := config.CreateStoreConfig(c.v)
	if err != nil {
		return nil, err
	}
	matchingConfig, err := config.CreateMatchingConfig(c.v)
	if err != nil {
		return nil, err
	}
	reconcilerConfig, err := config.CreateReconcilerConfig(c.v)
	if err != nil {
		return nil, err
	}
	registry, err := config.CreateRegistry(c.v)
	if err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger()
	st, err := store.Open(ctx, storeConfig, log.WithComponent("store"))
	if err != nil {
		return nil, err
	}

	orch, err := reconciler.New(
		st,
		extractor.New(registry, log.WithComponent("extractor")),
		matcher.NewEngine(matchingConfig, log.WithComponent("matcher")),
		reconcilerConfig,
		reconciler.WithLogger(log.WithComponent("reconciler")),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"database":  storeConfig.Path,
		"templates": registry.Len(),
	}).Debug("application ready")

	return &app{store: st, orch: orch, logger: log}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close database")
	}
}

// outputFormat is the format of command results other than reports
type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case outputText, outputJSON:
		return f, nil
	default:
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "format", s, nil).
			WithSuggestion("use --format text or --format json")
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(w io.Writer, o *reconciler.Outcome) {
	fmt.Fprintln(w, o.String())
	if o.AttemptID != "" {
		fmt.Fprintf(w, "  attempt: %s\n", o.AttemptID)
	}
	if o.Method != "" {
		fmt.Fprintf(w, "  extraction: %s\n", o.Method)
	}
	if o.RequestStatus != "" {
		fmt.Fprintf(w, "  request status: %s\n", o.RequestStatus)
	}
	for _, warning := range o.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
