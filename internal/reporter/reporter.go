// Package reporter renders match attempt audits for operators.
//
// A report is a set of attempts, usually the result of an audit query, plus a
// summary of outcomes. Every attempt field is exposed in each format:
//   - Console: human-readable blocks for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per attempt for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV, CSVDelimiter: ','})
//	report := reporter.NewAttemptReport(attempts, time.Now())
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeDiagnostics adds extraction steps, warnings and candidate scores
	IncludeDiagnostics bool `json:"include_diagnostics" mapstructure:"include_diagnostics"`

	// MaxItems caps the attempts listed; 0 lists all. The summary always covers every attempt.
	MaxItems int `json:"max_items" mapstructure:"max_items"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeDiagnostics: false,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// AttemptSummary aggregates the outcomes of a set of attempts
type AttemptSummary struct {
	Total           int                             `json:"total"`
	Matched         int                             `json:"matched"`
	Unmatched       int                             `json:"unmatched"`
	MatchRate       float64                         `json:"match_rate_percent"`
	ByMethod        map[models.ExtractionMethod]int `json:"by_method"`
	ByTrigger       map[models.Trigger]int          `json:"by_trigger"`
	TopReasons      []ReasonCount                   `json:"top_reasons"`
	MatchedAmount   decimal.Decimal                 `json:"matched_amount"`
	AvgProcessingMs float64                         `json:"avg_processing_ms"`
}

// ReasonCount is how often an unmatched reason occurred
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// noMethod labels attempts where extraction produced nothing
const noMethod models.ExtractionMethod = "none"

const maxTopReasons = 5

// Summarize computes the summary of attempts
func Summarize(attempts []*models.MatchAttempt) *AttemptSummary {
	s := &AttemptSummary{
		ByMethod:      make(map[models.ExtractionMethod]int),
		ByTrigger:     make(map[models.Trigger]int),
		TopReasons:    []ReasonCount{},
		MatchedAmount: decimal.Zero,
	}

	reasons := make(map[string]int)
	var totalMs int64
	for _, a := range attempts {
		s.Total++
		totalMs += a.ProcessingTimeMs
		s.ByTrigger[a.Trigger]++
		if a.ExtractionMethod != nil {
			s.ByMethod[*a.ExtractionMethod]++
		} else {
			s.ByMethod[noMethod]++
		}

		if a.IsMatched() {
			s.Matched++
			if a.ExtractedAmount != nil {
				s.MatchedAmount = s.MatchedAmount.Add(*a.ExtractedAmount)
			}
			continue
		}
		s.Unmatched++
		reasons[reasonKind(a.Reason)]++
	}

	if s.Total > 0 {
		s.MatchRate = float64(s.Matched) / float64(s.Total) * 100
		s.AvgProcessingMs = float64(totalMs) / float64(s.Total)
	}

	for reason, count := range reasons {
		s.TopReasons = append(s.TopReasons, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(s.TopReasons, func(i, j int) bool {
		if s.TopReasons[i].Count != s.TopReasons[j].Count {
			return s.TopReasons[i].Count > s.TopReasons[j].Count
		}
		return s.TopReasons[i].Reason < s.TopReasons[j].Reason
	})
	if len(s.TopReasons) > maxTopReasons {
		s.TopReasons = s.TopReasons[:maxTopReasons]
	}
	return s
}

// reasonKind groups reasons that only differ by the values they quote, so
// "amount mismatch: diff 5.00" and "amount mismatch: diff 7.50" count together
func reasonKind(reason string) string {
	if i := strings.IndexAny(reason, ":("); i > 0 {
		return strings.TrimSpace(reason[:i])
	}
	return strings.TrimSpace(reason)
}

// AttemptReport is the document every format renders
type AttemptReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Summary     *AttemptSummary        `json:"summary"`
	Attempts    []*models.MatchAttempt `json:"attempts"`
}

// NewAttemptReport builds a report over attempts
func NewAttemptReport(attempts []*models.MatchAttempt, generatedAt time.Time) *AttemptReport {
	if attempts == nil {
		attempts = []*models.MatchAttempt{}
	}
	return &AttemptReport{
		GeneratedAt: generatedAt.UTC(),
		Summary:     Summarize(attempts),
		Attempts:    attempts,
	}
}

// ReportGenerator generates attempt reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *AttemptReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if report.Summary == nil {
		report.Summary = Summarize(report.Attempts)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) listed(attempts []*models.MatchAttempt) []*models.MatchAttempt {
	if rg.config.MaxItems > 0 && len(attempts) > rg.config.MaxItems {
		return attempts[:rg.config.MaxItems]
	}
	return attempts
}

func (rg *ReportGenerator) generateConsoleReport(report *AttemptReport, writer io.Writer) error {
	ew := &errWriter{w: writer}

	ew.printf("MATCH ATTEMPT REPORT\n")
	ew.printf("Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	ew.printf("=== SUMMARY ===\n")
	rg.printSummary(report.Summary, ew)
	ew.printf("\n")

	attempts := rg.listed(report.Attempts)
	if len(attempts) > 0 {
		ew.printf("=== ATTEMPTS ===\n")
		for i, a := range attempts {
			rg.printAttempt(i+1, a, ew)
		}
		if hidden := len(report.Attempts) - len(attempts); hidden > 0 {
			ew.printf("... and %d more\n", hidden)
		}
	}
	return ew.err
}

func (rg *ReportGenerator) printSummary(s *AttemptSummary, ew *errWriter) {
	ew.printf("Attempts:        %d\n", s.Total)
	ew.printf("  Matched:       %d (%.1f%%)\n", s.Matched, s.MatchRate)
	ew.printf("  Unmatched:     %d\n", s.Unmatched)
	ew.printf("Matched Amount:  %s\n", s.MatchedAmount.StringFixed(2))
	ew.printf("Avg Processing:  %.1f ms\n", s.AvgProcessingMs)

	if len(s.ByMethod) > 0 {
		ew.printf("\nBy Extraction Method:\n")
		for _, method := range sortedKeys(s.ByMethod) {
			ew.printf("  %-16s %d\n", method, s.ByMethod[method])
		}
	}
	if len(s.ByTrigger) > 0 {
		ew.printf("\nBy Trigger:\n")
		for _, trigger := range sortedKeys(s.ByTrigger) {
			ew.printf("  %-16s %d\n", trigger, s.ByTrigger[trigger])
		}
	}
	if len(s.TopReasons) > 0 {
		ew.printf("\nTop Unmatched Reasons:\n")
		for _, rc := range s.TopReasons {
			ew.printf("  %4d  %s\n", rc.Count, rc.Reason)
		}
	}
}

func (rg *ReportGenerator) printAttempt(n int, a *models.MatchAttempt, ew *errWriter) {
	ew.printf("%d. %s [%s] %s\n", n, a.ID, strings.ToUpper(string(a.Result)), a.CreatedAt.Format(time.RFC3339))
	ew.printf("   Message:     %s (trigger %s, %d ms)\n", a.RawMessageID, a.Trigger, a.ProcessingTimeMs)
	ew.printf("   Email:       %q from %s at %s\n", a.EmailSubject, a.EmailFrom, a.EmailDate.Format(time.RFC3339))
	ew.printf("   Reason:      %s\n", a.Reason)
	ew.printf("   Method:      %s\n", methodString(a.ExtractionMethod))
	ew.printf("   Request:     %s (ref %s)\n", strOr(a.PaymentRequestID, "-"), strOr(a.TransactionReference, "-"))
	ew.printf("   Amount:      extracted %s, requested %s, diff %s\n",
		decimalOr(a.ExtractedAmount), decimalOr(a.PaymentAmount), decimalOr(a.AmountDiff))
	ew.printf("   Name:        extracted %s, requested %s, similarity %s\n",
		strOr(a.ExtractedName, "-"), strOr(a.PaymentName, "-"), percentOr(a.NameSimilarityPercent))
	ew.printf("   Account:     extracted %s, requested %s\n", strOr(a.ExtractedAccount, "-"), strOr(a.PaymentAccount, "-"))
	ew.printf("   Time Diff:   %s\n", minutesOr(a.TimeDiffMinutes))

	if rg.config.IncludeDiagnostics && a.Diagnostics != nil {
		d := a.Diagnostics
		if d.TemplateBank != "" {
			ew.printf("   Template:    %s\n", d.TemplateBank)
		}
		for _, step := range d.Steps {
			ew.printf("   Step:        %-14s %-8s %s\n", step.Method, step.Status, step.Detail)
		}
		for _, e := range d.Errors {
			ew.printf("   Error:       %s\n", e)
		}
		for _, issue := range d.Issues {
			ew.printf("   Issue:       %s\n", issue)
		}
		for _, w := range d.Warnings {
			ew.printf("   Warning:     %s\n", w)
		}
		for _, s := range d.Scores {
			verdict := "rejected"
			if s.Matched {
				verdict = "accepted"
			}
			ew.printf("   Candidate:   %s %s diff %s, %s", s.RequestID, verdict, s.AmountDiff.StringFixed(2), minutesOr(&s.TimeDiffMinutes))
			if len(s.Failures) > 0 {
				ew.printf(" (%s)", strings.Join(s.Failures, "; "))
			}
			ew.printf("\n")
		}
	}
	ew.printf("\n")
}

func (rg *ReportGenerator) generateJSONReport(report *AttemptReport, writer io.Writer) error {
	out := *report
	out.Attempts = rg.listed(report.Attempts)
	if !rg.config.IncludeDiagnostics {
		out.Attempts = withoutDiagnostics(out.Attempts)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func withoutDiagnostics(attempts []*models.MatchAttempt) []*models.MatchAttempt {
	stripped := make([]*models.MatchAttempt, len(attempts))
	for i, a := range attempts {
		cp := *a
		cp.Diagnostics = nil
		stripped[i] = &cp
	}
	return stripped
}

// csvHeaders are the columns of the CSV report, one per attempt field
var csvHeaders = []string{
	"id",
	"raw_message_id",
	"payment_request_id",
	"transaction_reference",
	"match_result",
	"extraction_method",
	"extracted_amount",
	"payment_amount",
	"amount_diff",
	"extracted_name",
	"payment_name",
	"extracted_account",
	"payment_account",
	"name_similarity_percent",
	"time_diff_minutes",
	"reason",
	"trigger",
	"email_subject",
	"email_from",
	"email_date",
	"processing_time_ms",
	"created_at",
}

func (rg *ReportGenerator) generateCSVReport(report *AttemptReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := csvHeaders
		if rg.config.IncludeDiagnostics {
			headers = append(append([]string(nil), csvHeaders...), "diagnostic_details")
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, a := range rg.listed(report.Attempts) {
		record := []string{
			a.ID,
			a.RawMessageID,
			strOr(a.PaymentRequestID, ""),
			strOr(a.TransactionReference, ""),
			string(a.Result),
			methodOr(a.ExtractionMethod, ""),
			decimalOrEmpty(a.ExtractedAmount),
			decimalOrEmpty(a.PaymentAmount),
			decimalOrEmpty(a.AmountDiff),
			strOr(a.ExtractedName, ""),
			strOr(a.PaymentName, ""),
			strOr(a.ExtractedAccount, ""),
			strOr(a.PaymentAccount, ""),
			floatOrEmpty(a.NameSimilarityPercent),
			floatOrEmpty(a.TimeDiffMinutes),
			a.Reason,
			string(a.Trigger),
			a.EmailSubject,
			a.EmailFrom,
			a.EmailDate.UTC().Format(time.RFC3339),
			strconv.FormatInt(a.ProcessingTimeMs, 10),
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if rg.config.IncludeDiagnostics {
			details := ""
			if a.Diagnostics != nil {
				raw, err := json.Marshal(a.Diagnostics)
				if err != nil {
					return fmt.Errorf("failed to encode diagnostics of attempt %s: %w", a.ID, err)
				}
				details = string(raw)
			}
			record = append(record, details)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write attempt %s: %w", a.ID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// errWriter keeps the first write error so console rendering reads straight through
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func sortedKeys[K ~string](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func strOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func methodOr(m *models.ExtractionMethod, fallback string) string {
	if m == nil {
		return fallback
	}
	return string(*m)
}

func methodString(m *models.ExtractionMethod) string {
	return methodOr(m, "-")
}

func decimalOr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func decimalOrEmpty(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}

func percentOr(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *f)
}

func minutesOr(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f min", *f)
}
