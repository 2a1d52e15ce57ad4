package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a report generator that logs and falls back
// to console output when the requested format cannot be produced
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("use one of the formats console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, retrying in console format when
// the configured format fails
func (srg *SafeReportGenerator) GenerateReportSafely(report *AttemptReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil)
	}

	log := srg.logger.WithFields(logger.Fields{
		"format":   srg.config.Format,
		"output":   getWriterDescription(writer),
		"attempts": len(report.Attempts),
	})
	log.Debug("generating report")

	err := srg.GenerateReport(report, writer)
	if err == nil {
		return nil
	}
	if srg.config.Format == FormatConsole || isWriteError(err) {
		log.WithError(err).Error("report generation failed")
		return srg.wrapGenerationError(err)
	}

	log.WithError(err).Warn("report generation failed, falling back to console format")
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback := &ReportGenerator{config: &fallbackConfig}

	fmt.Fprintf(writer, "NOTE: report generated in console format after an error with %s: %v\n\n", srg.config.Format, err)
	if ferr := fallback.GenerateReport(report, writer); ferr != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}
	return nil
}

// WriteFile writes the report to path. When path cannot be created the report
// goes to a backup file in the working directory and that path is returned.
func (srg *SafeReportGenerator) WriteFile(report *AttemptReport, path string) (string, error) {
	written := path
	f, err := createFile(path)
	if err != nil {
		backup := generateBackupPath(path)
		srg.logger.WithError(err).WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backup,
		}).Warn("cannot create report file, using backup location")

		f, err = createFile(backup)
		if err != nil {
			return "", errors.InputError(errors.CodeUnreadableFile, path, err).
				WithSuggestion("check the output directory exists and is writable")
		}
		written = backup
	}

	if err := srg.GenerateReportSafely(report, f); err != nil {
		f.Close()
		return written, err
	}
	if err := f.Close(); err != nil {
		return written, srg.wrapGenerationError(err)
	}

	srg.logger.WithField("file", written).Info("report written")
	return written, nil
}

func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

// generateBackupPath turns reports/out.csv into out_backup.csv in the working
// directory
func generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_backup%s", name, ext)
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("check the output destination and report format settings")
}

// isWriteError reports whether err came from the destination rather than the
// report content; a console fallback would hit the same destination
func isWriteError(err error) bool {
	return os.IsPermission(err) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrShortWrite) ||
		strings.Contains(err.Error(), "no space left")
}

func getWriterDescription(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok && f.Name() != "" {
		return "file:" + f.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}
