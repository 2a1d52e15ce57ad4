// Package config turns viper settings into the component configurations used
// by the paymatch commands. Every setting can come from the config file, a
// PAYMATCH_ environment variable (dots become underscores) or a bound flag.
package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/internal/reporter"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/internal/templates"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "PAYMATCH"

// SetDefaults registers the default of every known key
func SetDefaults(v *viper.Viper) {
	db := store.DefaultConfig()
	v.SetDefault("database.path", db.Path)
	v.SetDefault("database.busy_timeout", db.BusyTimeout)

	m := matcher.DefaultConfig()
	v.SetDefault("matching.name_similarity_threshold", m.NameSimilarityThreshold)
	v.SetDefault("matching.max_time_diff_minutes", m.MaxTimeDiffMinutes)
	v.SetDefault("matching.duplicate_window", m.DuplicateWindow)

	r := reconciler.DefaultConfig()
	v.SetDefault("reconciler.auto_approve", r.AutoApprove)
	v.SetDefault("reconciler.status_check_lookback", r.StatusCheckLookback)
	v.SetDefault("reconciler.batch_concurrency", r.BatchConcurrency)
	v.SetDefault("reconciler.dispatch_outbox", r.DispatchOutbox)
	v.SetDefault("reconciler.outbox_batch_size", r.OutboxBatchSize)

	l := logger.DefaultConfig()
	v.SetDefault("log.level", string(l.Level))
	v.SetDefault("log.format", string(l.Format))
	v.SetDefault("log.output", string(l.Output))
	v.SetDefault("log.file", l.File)

	v.SetDefault("templates.include_defaults", true)
	v.SetDefault("templates.files", []string{})

	msg := parsers.DefaultMessageConfig()
	v.SetDefault("messages.channel", msg.Channel)
	v.SetDefault("messages.merchant_id", msg.MerchantID)
	v.SetDefault("messages.source", string(msg.Source))
	v.SetDefault("messages.amount_hint_header", msg.AmountHintHeader)
	v.SetDefault("messages.merchant_header", msg.MerchantHeader)
	v.SetDefault("messages.max_body_size", msg.MaxBodySize)
	v.SetDefault("messages.concurrency", msg.Concurrency)

	req := parsers.DefaultRequestParserConfig()
	v.SetDefault("requests.delimiter", string(req.Delimiter))
	v.SetDefault("requests.has_header", req.HasHeader)
	v.SetDefault("requests.default_merchant_id", req.DefaultMerchantID)
	v.SetDefault("requests.default_ttl", req.DefaultTTL)
	v.SetDefault("requests.column_aliases", map[string]string{})
}

// ConfigureEnv enables PAYMATCH_ environment overrides
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// CreateStoreConfig creates the database configuration
func CreateStoreConfig(v *viper.Viper) (*store.Config, error) {
	config := &store.Config{
		Path:        v.GetString("database.path"),
		BusyTimeout: v.GetDuration("database.busy_timeout"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateMatchingConfig creates the matching engine configuration
func CreateMatchingConfig(v *viper.Viper) (*matcher.Config, error) {
	config := &matcher.Config{
		NameSimilarityThreshold: v.GetFloat64("matching.name_similarity_threshold"),
		MaxTimeDiffMinutes:      v.GetFloat64("matching.max_time_diff_minutes"),
		DuplicateWindow:         v.GetDuration("matching.duplicate_window"),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config, err).
			WithSuggestion("the name similarity threshold is a percentage between 0 and 100")
	}
	return config, nil
}

// CreateReconcilerConfig creates the orchestrator configuration
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	config := &reconciler.Config{
		AutoApprove:         v.GetBool("reconciler.auto_approve"),
		StatusCheckLookback: v.GetDuration("reconciler.status_check_lookback"),
		BatchConcurrency:    v.GetInt("reconciler.batch_concurrency"),
		DispatchOutbox:      v.GetBool("reconciler.dispatch_outbox"),
		OutboxBatchSize:     v.GetInt("reconciler.outbox_batch_size"),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}
	return config, nil
}

// CreateLoggerConfig creates the logger configuration; verbose forces debug level
func CreateLoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(v.GetString("log.level")))
	config.Format = logger.Format(strings.ToLower(v.GetString("log.format")))
	config.Output = logger.Output(strings.ToLower(v.GetString("log.output")))
	config.File = v.GetString("log.file")
	if verbose {
		config.Level = logger.DebugLevel
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", config, err).
			WithSuggestion("log levels are debug, info, warn or error; formats are text or json")
	}
	return config, nil
}

// CreateRegistry loads the bank template registry. Extra YAML files are merged
// with the embedded templates unless templates.include_defaults is false.
func CreateRegistry(v *viper.Viper) (*templates.Registry, error) {
	files := v.GetStringSlice("templates.files")
	includeDefaults := v.GetBool("templates.include_defaults")
	if !includeDefaults && len(files) == 0 {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "templates.files", files, nil).
			WithSuggestion("list template files or keep templates.include_defaults enabled")
	}
	if len(files) == 0 {
		return templates.Default()
	}
	return templates.Load(includeDefaults, files...)
}

// CreateMessageConfig creates the message file loader configuration
func CreateMessageConfig(v *viper.Viper) (*parsers.MessageConfig, error) {
	config := &parsers.MessageConfig{
		Channel:          v.GetString("messages.channel"),
		MerchantID:       v.GetString("messages.merchant_id"),
		Source:           models.Source(v.GetString("messages.source")),
		AmountHintHeader: v.GetString("messages.amount_hint_header"),
		MerchantHeader:   v.GetString("messages.merchant_header"),
		MaxBodySize:      v.GetInt64("messages.max_body_size"),
		Concurrency:      v.GetInt("messages.concurrency"),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "messages", config, err)
	}
	return config, nil
}

// CreateRequestParserConfig creates the payment request CSV import configuration
func CreateRequestParserConfig(v *viper.Viper) (*parsers.RequestParserConfig, error) {
	config := parsers.DefaultRequestParserConfig()

	delimiter := v.GetString("requests.delimiter")
	if delimiter == `\t` || delimiter == "tab" {
		delimiter = "\t"
	}
	if utf8.RuneCountInString(delimiter) != 1 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "requests.delimiter", delimiter,
			fmt.Errorf("delimiter must be a single character"))
	}
	config.Delimiter, _ = utf8.DecodeRuneInString(delimiter)
	config.HasHeader = v.GetBool("requests.has_header")
	config.DefaultMerchantID = v.GetString("requests.default_merchant_id")
	config.DefaultTTL = v.GetDuration("requests.default_ttl")
	if aliases := v.GetStringMapString("requests.column_aliases"); len(aliases) > 0 {
		config.ColumnAliases = aliases
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "requests", config, err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, includeDiagnostics bool, maxItems int) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.IncludeDiagnostics = includeDiagnostics
	config.MaxItems = maxItems

	if config.Format == reporter.FormatCSV {
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", format, err).
			WithSuggestion("valid formats: console, json, csv")
	}
	return config, nil
}
