package matcher

import (
	"fmt"
	"time"

	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/models"
)

// DuplicateWarning flags an approved request that looks like the same transfer
type DuplicateWarning struct {
	RequestID  string
	Reference  string
	Confidence float64
	Reason     string
}

// DuplicateDetector looks for approved requests that a new notification may
// be repeating. Its findings are warnings only and never block a match.
type DuplicateDetector struct {
	window time.Duration
}

// NewDuplicateDetector creates a detector looking back over window
func NewDuplicateDetector(window time.Duration) *DuplicateDetector {
	return &DuplicateDetector{window: window}
}

// Window returns the look-back window; zero means disabled
func (dd *DuplicateDetector) Window() time.Duration {
	return dd.window
}

// Since returns the start of the look-back window for a message
func (dd *DuplicateDetector) Since(msg *models.RawMessage) time.Time {
	return msg.ReceivedAt.Add(-dd.window)
}

// Detect compares the extraction with recently approved requests. A request is
// a possible duplicate when it has the same amount, the same normalised payer
// name and was created within the window before the message arrived.
func (dd *DuplicateDetector) Detect(info *models.ExtractedPaymentInfo, msg *models.RawMessage, approved []*models.PaymentRequest) []DuplicateWarning {
	if dd.window <= 0 || info == nil || info.Name() == "" {
		return nil
	}

	var warnings []DuplicateWarning
	for _, req := range approved {
		if !dd.isPotentialDuplicate(info, msg, req) {
			continue
		}
		warnings = append(warnings, DuplicateWarning{
			RequestID:  req.ID,
			Reference:  req.Reference,
			Confidence: dd.confidence(msg, req),
			Reason: fmt.Sprintf("possible duplicate of approved request %s (ref %s): same amount %s and payer %q within %s",
				req.ID, req.Reference, req.Amount.StringFixed(2), info.Name(), dd.window),
		})
	}
	return warnings
}

func (dd *DuplicateDetector) isPotentialDuplicate(info *models.ExtractedPaymentInfo, msg *models.RawMessage, req *models.PaymentRequest) bool {
	if req.Status != models.StatusApproved {
		return false
	}
	if !req.Amount.Equal(info.Amount) {
		return false
	}
	if extractor.NormalizeName(req.PayerName()) != extractor.NormalizeName(info.Name()) {
		return false
	}
	age := msg.ReceivedAt.Sub(req.CreatedAt)
	return age >= 0 && age <= dd.window
}

// confidence grows as the approved request gets closer to the message
func (dd *DuplicateDetector) confidence(msg *models.RawMessage, req *models.PaymentRequest) float64 {
	age := msg.ReceivedAt.Sub(req.CreatedAt)
	switch {
	case age <= 5*time.Minute:
		return 0.9
	case age <= 30*time.Minute:
		return 0.7
	default:
		return 0.5
	}
}
