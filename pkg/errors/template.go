package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TemplateContext locates a problem inside a bank template definition
type TemplateContext struct {
	File     string `json:"file"`
	Template string `json:"template"`
	Index    int    `json:"index"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// TemplateError describes an invalid bank template with enough context to fix it
type TemplateError struct {
	*ReconcilerError
	Location *TemplateContext `json:"location"`
	Examples []string         `json:"examples,omitempty"`
}

// Error implements the error interface
func (e *TemplateError) Error() string {
	parts := []string{e.ReconcilerError.Error()}
	if e.Location != nil {
		location := fmt.Sprintf("at %s template #%d", filepath.Base(e.Location.File), e.Location.Index)
		if e.Location.Template != "" {
			location += fmt.Sprintf(" (%s)", e.Location.Template)
		}
		if e.Location.Field != "" {
			location += fmt.Sprintf(" field '%s'", e.Location.Field)
		}
		parts = append(parts, location)
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the embedded ReconcilerError so AsReconcilerError and
// HasCode see template errors
func (e *TemplateError) Unwrap() error {
	return e.ReconcilerError
}

// GetDetailedError returns a detailed multi-line error description
func (e *TemplateError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		if e.Location.File != "" {
			lines = append(lines, fmt.Sprintf("  → File: %s", e.Location.File))
		}
		lines = append(lines, fmt.Sprintf("  → Template: #%d %s", e.Location.Index, e.Location.Template))
		if e.Location.Field != "" {
			lines = append(lines, fmt.Sprintf("  → Field: %s", e.Location.Field))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples:")
		for _, example := range e.Examples {
			lines = append(lines, fmt.Sprintf("    • %s", example))
		}
	}

	return strings.Join(lines, "\n")
}

// NewTemplateError creates a new template error
func NewTemplateError(location *TemplateContext, message string, cause error) *TemplateError {
	var base *ReconcilerError
	if cause != nil {
		base = Wrap(cause, CategoryExtraction, CodeInvalidTemplate, message)
	} else {
		base = New(CategoryExtraction, CodeInvalidTemplate, message)
	}

	if location != nil {
		base.WithContext("file", location.File).
			WithContext("template", location.Template).
			WithContext("field", location.Field)
	}

	return &TemplateError{
		ReconcilerError: base,
		Location:        location,
	}
}

// WithExamples adds example values to help fix the error
func (e *TemplateError) WithExamples(examples ...string) *TemplateError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the TemplateError
func (e *TemplateError) WithSuggestion(suggestion string) *TemplateError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// InvalidPatternError reports a field pattern that does not compile or lacks a capture group
func InvalidPatternError(location *TemplateContext, cause error) *TemplateError {
	location.Expected = "regular expression with exactly one capture group"
	return NewTemplateError(location, "invalid field pattern", cause).
		WithExamples(`(?i)amount\s*:\s*(?:NGN|₦)\s*([\d,]+\.\d{2})`, `(?i)remarks?\s*:\s*(.+)`).
		WithSuggestion("wrap the value you want to capture in a single group")
}

// MissingAliasesError reports a template that can never be selected
func MissingAliasesError(location *TemplateContext) *TemplateError {
	location.Field = "aliases"
	location.Expected = "at least one sender address, domain or display name"
	return NewTemplateError(location, "template has no aliases", nil).
		WithExamples("gtbank.com", "alerts@zenithbank.com", "Access Bank").
		WithSuggestion("list the sender identities this bank uses")
}

// EmptyRulesError reports a template without any amount rule
func EmptyRulesError(location *TemplateContext) *TemplateError {
	location.Field = "rules"
	location.Expected = "amount_labels or amount_patterns"
	return NewTemplateError(location, "template defines no amount rule", nil).
		WithSuggestion("add the table label or pattern that locates the credited amount")
}

// TemplateErrorCollector collects template errors while a registry loads
type TemplateErrorCollector struct {
	errors []*TemplateError
}

// NewTemplateErrorCollector creates a new error collector
func NewTemplateErrorCollector() *TemplateErrorCollector {
	return &TemplateErrorCollector{}
}

// Add adds an error to the collector
func (c *TemplateErrorCollector) Add(err *TemplateError) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// HasErrors returns true if any errors have been collected
func (c *TemplateErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *TemplateErrorCollector) GetErrors() []*TemplateError {
	return c.errors
}

// GetSummary returns an error summary for all collected errors
func (c *TemplateErrorCollector) GetSummary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

// Err returns nil when nothing was collected. Otherwise it returns one
// extraction error whose details list every problem and whose cause is the
// summary.
func (c *TemplateErrorCollector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	subject := fmt.Sprintf("set (%d problem(s))", len(c.errors))
	return ExtractionError(CodeInvalidTemplate, subject, c.GetSummary()).
		WithDetails(FormatTemplateErrorsForUser(c.errors))
}

// FormatTemplateErrorsForUser formats template errors in a user-friendly way
func FormatTemplateErrorsForUser(errs []*TemplateError) string {
	if len(errs) == 0 {
		return "No template errors"
	}
	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	lines := []string{fmt.Sprintf("Found %d template errors:", len(errs))}
	for _, err := range errs {
		lines = append(lines, "", err.GetDetailedError())
	}
	return strings.Join(lines, "\n")
}
