package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractionMethod names the strategy that produced an extraction
type ExtractionMethod string

const (
	MethodTemplate     ExtractionMethod = "template"
	MethodHTMLTable    ExtractionMethod = "htmlTable"
	MethodHTMLText     ExtractionMethod = "htmlText"
	MethodRenderedText ExtractionMethod = "renderedText"
	MethodFallback     ExtractionMethod = "fallback"
)

// ExtractionMethods lists the strategies in the order they are attempted
var ExtractionMethods = []ExtractionMethod{
	MethodTemplate,
	MethodHTMLTable,
	MethodHTMLText,
	MethodRenderedText,
	MethodFallback,
}

// IsValid checks if the method is one of the known strategies
func (m ExtractionMethod) IsValid() bool {
	for _, known := range ExtractionMethods {
		if m == known {
			return true
		}
	}
	return false
}

// AmountSource tells whether the amount came out of the body or from the transport
type AmountSource string

const (
	AmountExtracted AmountSource = "extracted"
	AmountHint      AmountSource = "hint"
)

// ExtractedPaymentInfo holds the fields pulled out of one message. Name and
// account are optional and every consumer must handle them being absent.
type ExtractedPaymentInfo struct {
	Amount        decimal.Decimal  `json:"amount"`
	SenderName    *string          `json:"sender_name,omitempty"`
	AccountNumber *string          `json:"account_number,omitempty"`
	Method        ExtractionMethod `json:"method"`
	TemplateBank  string           `json:"template_bank,omitempty"`
	AmountSource  AmountSource     `json:"amount_source"`
}

// Name returns the normalised sender name or an empty string
func (e *ExtractedPaymentInfo) Name() string {
	if e == nil || e.SenderName == nil {
		return ""
	}
	return *e.SenderName
}

// Account returns the account number or an empty string
func (e *ExtractedPaymentInfo) Account() string {
	if e == nil || e.AccountNumber == nil {
		return ""
	}
	return *e.AccountNumber
}

// StepStatus is the outcome of one extraction strategy
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ExtractionStep records one strategy run
type ExtractionStep struct {
	Method ExtractionMethod `json:"method"`
	Status StepStatus       `json:"status"`
	Detail string           `json:"detail,omitempty"`
	Body   string           `json:"body,omitempty"`
}

// PreviewLength bounds the body snapshots kept in diagnostics
const PreviewLength = 500

// Diagnostics is the forensic record kept with every attempt regardless of outcome
type Diagnostics struct {
	Steps        []ExtractionStep `json:"extraction_steps"`
	Errors       []string         `json:"extraction_errors"`
	TextLength   int              `json:"text_length"`
	HTMLLength   int              `json:"html_length"`
	TextPreview  string           `json:"text_preview"`
	HTMLPreview  string           `json:"html_preview"`
	Subject      string           `json:"subject"`
	From         string           `json:"from"`
	TemplateBank string           `json:"template_bank,omitempty"`
	Issues       []string         `json:"detected_issues,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	Scores       []CandidateScore `json:"scores,omitempty"`
}

// NewDiagnostics captures the message snapshot every diagnostics record starts with
func NewDiagnostics(msg *RawMessage) *Diagnostics {
	d := &Diagnostics{
		Steps:  []ExtractionStep{},
		Errors: []string{},
	}
	if msg == nil {
		return d
	}
	d.TextLength = len(msg.TextBody)
	d.HTMLLength = len(msg.HTMLBody)
	d.TextPreview = Preview(msg.TextBody, PreviewLength)
	d.HTMLPreview = Preview(msg.HTMLBody, PreviewLength)
	d.Subject = msg.Subject
	d.From = msg.From()
	return d
}

// AddStep appends a step; failed steps with a detail are mirrored into Errors
func (d *Diagnostics) AddStep(method ExtractionMethod, status StepStatus, detail string) {
	d.Steps = append(d.Steps, ExtractionStep{Method: method, Status: status, Detail: detail})
	if status == StepFailed && detail != "" {
		d.Errors = append(d.Errors, string(method)+": "+detail)
	}
}

// AddIssue records a detected problem with the message once
func (d *Diagnostics) AddIssue(issue string) {
	for _, existing := range d.Issues {
		if existing == issue {
			return
		}
	}
	d.Issues = append(d.Issues, issue)
}

// AddWarning records a non-blocking warning
func (d *Diagnostics) AddWarning(warning string) {
	d.Warnings = append(d.Warnings, warning)
}

// Step returns the recorded step for a method, if it ran
func (d *Diagnostics) Step(method ExtractionMethod) (ExtractionStep, bool) {
	for _, s := range d.Steps {
		if s.Method == method {
			return s, true
		}
	}
	return ExtractionStep{}, false
}

// Summary renders the steps as "template=skipped htmlTable=failed ..."
func (d *Diagnostics) Summary() string {
	parts := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		parts = append(parts, string(s.Method)+"="+string(s.Status))
	}
	return strings.Join(parts, " ")
}
