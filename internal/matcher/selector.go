package matcher

import (
	"context"
	"time"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// RequestQuery narrows the pending requests a message may settle
type RequestQuery struct {
	// MerchantID restricts to one merchant when the message is scoped to one
	MerchantID string

	// AccountNumber restricts to requests provisioned with this account
	AccountNumber string

	// LiveAt excludes requests that had expired at this instant
	LiveAt time.Time
}

func (q RequestQuery) matches(r *models.PaymentRequest) bool {
	if r.Status != models.StatusPending {
		return false
	}
	if q.MerchantID != "" && r.MerchantID != q.MerchantID {
		return false
	}
	if q.AccountNumber != "" && models.NormalizeAccountNumber(r.AccountNumber) != models.NormalizeAccountNumber(q.AccountNumber) {
		return false
	}
	return q.LiveAt.IsZero() || !r.IsExpiredAt(q.LiveAt)
}

// RequestSource provides pending payment requests
type RequestSource interface {
	PendingRequests(ctx context.Context, q RequestQuery) ([]*models.PaymentRequest, error)
}

// ApprovalSource provides recently approved requests for the duplicate payment warning
type ApprovalSource interface {
	RecentApprovals(ctx context.Context, merchantID string, since time.Time) ([]*models.PaymentRequest, error)
}

// Selector picks the candidate requests for an extraction
type Selector struct {
	source RequestSource
}

// NewSelector creates a selector over a request source
func NewSelector(source RequestSource) *Selector {
	return &Selector{source: source}
}

// SelectCandidates returns pending, unexpired requests in the message's
// merchant scope, restricted to the extracted account number when there is
// one. Amounts are not filtered here so near misses are still scored.
func (s *Selector) SelectCandidates(ctx context.Context, info *models.ExtractedPaymentInfo, msg *models.RawMessage) ([]*models.PaymentRequest, error) {
	q := RequestQuery{
		MerchantID:    msg.MerchantID,
		AccountNumber: info.Account(),
		LiveAt:        msg.ReceivedAt,
	}

	requests, err := s.source.PendingRequests(ctx, q)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "select candidates", err)
	}

	// sources may be looser than the query; the query is the contract
	out := requests[:0:0]
	for _, r := range requests {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
