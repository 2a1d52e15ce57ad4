// Package extractor pulls the credited amount, payer name and account number
// out of bank notification messages.
//
// Extraction runs an ordered chain of strategies and stops at the first one
// that yields an amount:
//
//  1. template     - the bank template matching the sender, from the registry
//  2. htmlTable    - generic label/value scan of HTML table rows
//  3. htmlText     - generic patterns over the HTML rendered as text
//  4. renderedText - generic patterns over the plain-text body
//  5. fallback     - loose number scan over whichever body has content
//
// Every strategy that runs is recorded in the diagnostics, with the reason it
// failed, together with body lengths and bounded previews of both bodies. Name
// and account values found by a strategy that produced no amount are kept and
// fill the gaps of the winning result.
//
// Extraction is pure: it never touches storage and is safe to run from many
// goroutines at once.
//
// Example usage:
//
//	reg, _ := templates.Default()
//	ex := extractor.New(reg, logger.WithComponent("extractor"))
//	info, diag := ex.Extract(msg)
//	if info == nil {
//		fmt.Println("no amount:", diag.Summary())
//	}
package extractor

import (
	"strings"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/templates"
	"golang-payment-matcher/pkg/logger"
)

// Issue texts recorded in diagnostics
const (
	IssueNoBody           = "both text and HTML bodies are empty"
	IssueNoKeywords       = "no payment keywords found"
	IssueHTMLWithoutTable = "HTML body contains no tables"
)

// Extractor runs the strategy chain
type Extractor struct {
	strategies []Strategy
	logger     logger.Logger
}

// New creates an extractor with the default strategy chain
func New(registry *templates.Registry, log logger.Logger) *Extractor {
	return NewWithStrategies(log, DefaultStrategies(registry)...)
}

// NewWithStrategies creates an extractor running the given strategies in order
func NewWithStrategies(log logger.Logger, strategies ...Strategy) *Extractor {
	if log == nil {
		log = logger.WithComponent("extractor")
	}
	return &Extractor{strategies: strategies, logger: log}
}

// Extract runs the strategy chain. The returned info is nil when no strategy
// found an amount; diagnostics are always returned.
func (e *Extractor) Extract(msg *models.RawMessage) (*models.ExtractedPaymentInfo, *models.Diagnostics) {
	diag := models.NewDiagnostics(msg)
	info := e.run(msg, diag, "")
	return info, diag
}

func (e *Extractor) run(msg *models.RawMessage, diag *models.Diagnostics, body string) *models.ExtractedPaymentInfo {
	in := newInput(msg)
	detectIssues(in, diag)

	var partial fields
	var winner *fields
	var method models.ExtractionMethod

	for _, s := range e.strategies {
		if winner != nil {
			diag.Steps = append(diag.Steps, models.ExtractionStep{Method: s.Method(), Status: models.StepSkipped, Detail: "earlier strategy succeeded", Body: body})
			continue
		}

		f, err := s.Extract(in)
		if f.bank != "" && diag.TemplateBank == "" {
			diag.TemplateBank = f.bank
		}
		switch {
		case err != nil:
			e.addStep(diag, s.Method(), models.StepFailed, err.Error(), body)
		case f.amount == nil:
			detail := "no amount found"
			if !f.empty() {
				detail += " (partial fields kept)"
			}
			e.addStep(diag, s.Method(), models.StepFailed, detail, body)
			partial.merge(f)
		default:
			e.addStep(diag, s.Method(), models.StepSuccess, "amount "+f.amount.String(), body)
			found := f
			winner = &found
			method = s.Method()
		}
	}

	if winner == nil {
		e.logger.WithFields(logger.Fields{
			"subject": msg.Subject,
			"steps":   diag.Summary(),
		}).Debug("No strategy extracted an amount")
		return nil
	}

	winner.merge(partial)
	info := &models.ExtractedPaymentInfo{
		Amount:       *winner.amount,
		Method:       method,
		AmountSource: models.AmountExtracted,
	}
	if winner.name != "" {
		name := winner.name
		info.SenderName = &name
	}
	if winner.account != "" {
		account := winner.account
		info.AccountNumber = &account
	}
	if method == models.MethodTemplate {
		info.TemplateBank = winner.bank
	}

	e.logger.WithFields(logger.Fields{
		"method":      method,
		"amount":      info.Amount.String(),
		"has_name":    info.SenderName != nil,
		"has_account": info.AccountNumber != nil,
	}).Debug("Extracted payment info")

	return info
}

func (e *Extractor) addStep(diag *models.Diagnostics, method models.ExtractionMethod, status models.StepStatus, detail, body string) {
	diag.AddStep(method, status, detail)
	diag.Steps[len(diag.Steps)-1].Body = body
}

func detectIssues(in *input, diag *models.Diagnostics) {
	if !in.msg.HasBody() {
		diag.AddIssue(IssueNoBody)
		return
	}
	if !paymentKeywords.MatchString(in.msg.Subject + "\n" + in.msg.TextBody + "\n" + in.htmlText) {
		diag.AddIssue(IssueNoKeywords)
	}
	if in.doc != nil && !hasTable(in.doc) {
		diag.AddIssue(IssueHTMLWithoutTable)
	}
}

// ReExtraction is the result of a body-by-body re-extraction
type ReExtraction struct {
	Info         *models.ExtractedPaymentInfo
	Diagnostics  *models.Diagnostics
	TextBodyUsed bool
	HTMLBodyUsed bool
}

// ReExtract extracts from the text body alone and, only when that yields no
// amount, from the HTML body alone. Steps of both passes are recorded in one
// diagnostics record and tagged with the body they ran against.
func (e *Extractor) ReExtract(msg *models.RawMessage) *ReExtraction {
	res := &ReExtraction{Diagnostics: models.NewDiagnostics(msg)}

	if strings.TrimSpace(msg.TextBody) != "" {
		res.TextBodyUsed = true
		res.Info = e.run(msg.WithBodies(msg.TextBody, ""), res.Diagnostics, "text")
		if res.Info != nil {
			return res
		}
	}

	if strings.TrimSpace(msg.HTMLBody) != "" {
		res.HTMLBodyUsed = true
		res.Info = e.run(msg.WithBodies("", msg.HTMLBody), res.Diagnostics, "html")
		return res
	}

	if !res.TextBodyUsed {
		res.Info = e.run(msg, res.Diagnostics, "")
	}
	return res
}
