package matcher

import (
	"strings"
	"testing"
	"time"

	"golang-payment-matcher/internal/models"
)

func approvedRequest(id, amount, payer string, created time.Time) *models.PaymentRequest {
	r := newRequest(id, amount, created, payer)
	r.Status = models.StatusApproved
	return r
}

func TestDuplicateDetector_Detect(t *testing.T) {
	received := baseTime.Add(time.Hour)
	msg := newMessage(received)
	info := newInfo("5000.00", "john doe")

	tests := []struct {
		name       string
		approved   []*models.PaymentRequest
		wantIDs    []string
		confidence float64
	}{
		{
			name:       "recent approval with same amount and payer",
			approved:   []*models.PaymentRequest{approvedRequest("a1", "5000.00", "John DOE", received.Add(-3*time.Minute))},
			wantIDs:    []string{"a1"},
			confidence: 0.9,
		},
		{
			name:       "older approval inside window",
			approved:   []*models.PaymentRequest{approvedRequest("a1", "5000.00", "John Doe", received.Add(-45*time.Minute))},
			wantIDs:    []string{"a1"},
			confidence: 0.5,
		},
		{
			name:     "different amount",
			approved: []*models.PaymentRequest{approvedRequest("a1", "5000.01", "John Doe", received.Add(-time.Minute))},
		},
		{
			name:     "different payer",
			approved: []*models.PaymentRequest{approvedRequest("a1", "5000.00", "Jane Doe", received.Add(-time.Minute))},
		},
		{
			name:     "outside window",
			approved: []*models.PaymentRequest{approvedRequest("a1", "5000.00", "John Doe", received.Add(-2*time.Hour))},
		},
		{
			name:     "not approved",
			approved: []*models.PaymentRequest{newRequest("a1", "5000.00", received.Add(-time.Minute), "John Doe")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := NewDuplicateDetector(time.Hour).Detect(info, msg, tt.approved)
			if len(warnings) != len(tt.wantIDs) {
				t.Fatalf("expected %d warnings, got %d", len(tt.wantIDs), len(warnings))
			}
			for i, w := range warnings {
				if w.RequestID != tt.wantIDs[i] {
					t.Errorf("expected warning for %s, got %s", tt.wantIDs[i], w.RequestID)
				}
				if w.Confidence != tt.confidence {
					t.Errorf("expected confidence %.1f, got %.1f", tt.confidence, w.Confidence)
				}
				if !strings.Contains(w.Reason, "possible duplicate") {
					t.Errorf("unexpected reason %q", w.Reason)
				}
			}
		})
	}
}

func TestDuplicateDetector_Disabled(t *testing.T) {
	received := baseTime.Add(time.Hour)
	approved := []*models.PaymentRequest{approvedRequest("a1", "5000.00", "John Doe", received.Add(-time.Minute))}

	if w := NewDuplicateDetector(0).Detect(newInfo("5000.00", "john doe"), newMessage(received), approved); len(w) != 0 {
		t.Errorf("expected zero window to disable detection, got %d warnings", len(w))
	}
	if w := NewDuplicateDetector(time.Hour).Detect(newInfo("5000.00", ""), newMessage(received), approved); len(w) != 0 {
		t.Errorf("expected no warning without an extracted name, got %d", len(w))
	}
}

func TestDuplicateDetector_Since(t *testing.T) {
	dd := NewDuplicateDetector(time.Hour)
	msg := newMessage(baseTime.Add(2 * time.Hour))
	if got := dd.Since(msg); !got.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("expected window start %s, got %s", baseTime.Add(time.Hour), got)
	}
	if dd.Window() != time.Hour {
		t.Errorf("expected window of one hour, got %s", dd.Window())
	}
}
