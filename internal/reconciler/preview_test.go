package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/templates"
	"golang-payment-matcher/pkg/logger"
)

func newPreviewer(t *testing.T, requests ...*models.PaymentRequest) *Previewer {
	t.Helper()
	reg, err := templates.Default()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}
	p, err := NewPreviewer(extractor.New(reg, logger.Discard()), nil, matcher.NewRequestIndex(requests))
	if err != nil {
		t.Fatalf("failed to create previewer: %v", err)
	}
	return p
}

func pendingRequest(id, amount string, created time.Time) *models.PaymentRequest {
	return &models.PaymentRequest{
		ID:         id,
		Reference:  "REF-" + id,
		MerchantID: "merchant-1",
		Amount:     decimal.RequireFromString(amount),
		Status:     models.StatusPending,
		CreatedAt:  created,
	}
}

func TestNewPreviewer(t *testing.T) {
	reg, _ := templates.Default()
	ex := extractor.New(reg, logger.Discard())

	if _, err := NewPreviewer(nil, nil, matcher.NewRequestIndex(nil)); err == nil {
		t.Error("expected error without an extractor")
	}
	if _, err := NewPreviewer(ex, nil, nil); err == nil {
		t.Error("expected error without a request source")
	}
}

func TestPreview(t *testing.T) {
	p := newPreviewer(t,
		pendingRequest("req-1", "5000.00", t0),
		pendingRequest("req-2", "750.00", t0),
	)

	tests := []struct {
		name      string
		in        IngestInput
		matched   bool
		requestID string
		reason    string
	}{
		{
			name:      "exact amount",
			in:        input(creditAlert("5,000.00", "John Doe"), t0.Add(3*time.Minute)),
			matched:   true,
			requestID: "req-1",
		},
		{
			name:      "closest candidate named",
			in:        input(creditAlert("760.00", "John Doe"), t0.Add(3*time.Minute)),
			matched:   false,
			requestID: "req-2",
		},
		{
			name:   "no amount",
			in:     input("Thank you for banking with us", t0.Add(time.Minute)),
			reason: ReasonNoAmount,
		},
		{
			name:   "no body",
			in:     input("", t0.Add(time.Minute)),
			reason: ReasonMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Preview(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("preview failed: %v", err)
			}
			if result.Matched != tt.matched {
				t.Errorf("expected matched=%v, got %v (%s)", tt.matched, result.Matched, result.Reason)
			}
			if result.PaymentRequestID != tt.requestID {
				t.Errorf("expected request %q, got %q", tt.requestID, result.PaymentRequestID)
			}
			if tt.reason != "" && result.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, result.Reason)
			}
		})
	}
}

func TestPreviewAmountHint(t *testing.T) {
	p := newPreviewer(t, pendingRequest("req-1", "5000.00", t0))

	in := input(creditAlert("4,000.00", "John Doe"), t0.Add(time.Minute))
	in.AmountHint = "5000"
	result, err := p.Preview(context.Background(), in)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if !result.Matched || result.Extracted.AmountSource != models.AmountHint {
		t.Errorf("expected the hint to decide the match, got %+v", result)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about the overridden amount")
	}
}

func TestPreviewInvalidInput(t *testing.T) {
	p := newPreviewer(t)
	in := input(creditAlert("10.00", ""), t0)
	in.Channel = ""
	if _, err := p.Preview(context.Background(), in); err == nil {
		t.Error("expected an error for an input without a channel")
	}
}
