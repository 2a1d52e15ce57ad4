package reconciler

import (
	"context"

	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// Preview is the decision a message would get, computed without storing
// anything or changing any request
type Preview struct {
	Subject          string                       `json:"subject"`
	From             string                       `json:"from"`
	Extracted        *models.ExtractedPaymentInfo `json:"extracted,omitempty"`
	Matched          bool                         `json:"matched"`
	PaymentRequestID string                       `json:"payment_request_id,omitempty"`
	Reason           string                       `json:"reason"`
	Scores           []models.CandidateScore      `json:"scores,omitempty"`
	Warnings         []string                     `json:"warnings,omitempty"`
}

// Previewer runs extraction and matching against any request source, such as
// a matcher.RequestIndex built from a request export
type Previewer struct {
	extractor *extractor.Extractor
	selector  *matcher.Selector
	engine    *matcher.Engine
}

// NewPreviewer creates a previewer; a nil engine uses the default matching config
func NewPreviewer(ex *extractor.Extractor, engine *matcher.Engine, source matcher.RequestSource) (*Previewer, error) {
	if ex == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "extractor", nil, nil)
	}
	if source == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "request source", nil, nil)
	}
	if engine == nil {
		engine = matcher.NewEngine(nil, nil)
	}
	return &Previewer{extractor: ex, selector: matcher.NewSelector(source), engine: engine}, nil
}

// Preview extracts and evaluates one input
func (p *Previewer) Preview(ctx context.Context, in IngestInput) (*Preview, error) {
	msg, hintWarning, err := buildMessage(in)
	if err != nil {
		return nil, err
	}

	result := &Preview{Subject: msg.Subject, From: msg.From()}
	if !msg.HasBody() {
		result.Reason = ReasonMalformed
		return result, nil
	}

	info, diag := p.extractor.Extract(msg)
	if hintWarning != "" {
		diag.AddWarning(hintWarning)
	}
	info = applyHint(msg, info, diag)
	result.Extracted = info
	if info == nil {
		result.Reason = ReasonNoAmount
		result.Warnings = diag.Warnings
		return result, nil
	}

	candidates, err := p.selector.SelectCandidates(ctx, info, msg)
	if err != nil {
		return nil, err
	}
	decision := p.engine.Evaluate(info, msg, candidates)
	result.Matched = decision.Matched()
	result.Reason = decision.Reason
	result.Scores = decision.Scores
	result.Warnings = diag.Warnings
	if _, req := decision.Attributed(); req != nil {
		result.PaymentRequestID = req.ID
	}
	return result, nil
}
