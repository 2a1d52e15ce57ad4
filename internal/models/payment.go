package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment request
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusMatched  PaymentStatus = "matched"
	StatusApproved PaymentStatus = "approved"
	StatusRejected PaymentStatus = "rejected"
	StatusExpired  PaymentStatus = "expired"
)

var statusTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending: {StatusMatched, StatusExpired},
	StatusMatched: {StatusApproved, StatusRejected},
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known states
func (s PaymentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusApproved, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next directly follows s
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentRequest is a merchant's expectation of an incoming transfer
type PaymentRequest struct {
	ID               string          `json:"id"`
	Reference        string          `json:"reference"`
	MerchantID       string          `json:"merchant_id"`
	Amount           decimal.Decimal `json:"amount"`
	PayerNameHint    *string         `json:"payer_name_hint,omitempty"`
	AccountNumber    string          `json:"account_number,omitempty"`
	Status           PaymentStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	MatchedAt        *time.Time      `json:"matched_at,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	MatchedMessageID string          `json:"matched_message_id,omitempty"`
}

// Validate performs basic validation on the PaymentRequest
func (p *PaymentRequest) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("payment request ID cannot be empty")
	}
	if strings.TrimSpace(p.MerchantID) == "" {
		return fmt.Errorf("payment request merchant cannot be empty")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("payment request amount must be positive, got %s", p.Amount.String())
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid payment request status: %s", p.Status)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("payment request created time cannot be zero")
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(p.CreatedAt) {
		return fmt.Errorf("payment request expiry must be after creation")
	}
	return nil
}

// IsExpiredAt reports whether the request had expired at t; a nil expiry never expires
func (p *PaymentRequest) IsExpiredAt(t time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(t)
}

// PayerName returns the payer name hint or an empty string
func (p *PaymentRequest) PayerName() string {
	if p.PayerNameHint == nil {
		return ""
	}
	return *p.PayerNameHint
}

// String returns a string representation of the PaymentRequest
func (p *PaymentRequest) String() string {
	return fmt.Sprintf("PaymentRequest{ID: %s, Ref: %s, Amount: %s, Status: %s}",
		p.ID, p.Reference, p.Amount.StringFixed(2), p.Status)
}

// MerchantBalance is the available balance credited by approved requests
type MerchantBalance struct {
	MerchantID string          `json:"merchant_id"`
	Available  decimal.Decimal `json:"available"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// EventPaymentApproved is the outbox event type written on approval
const EventPaymentApproved = "payment.approved"

// OutboxEvent is a notification waiting to be handed to the event publisher
type OutboxEvent struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	PaymentRequestID string     `json:"payment_request_id"`
	MerchantID       string     `json:"merchant_id"`
	Payload          []byte     `json:"payload"`
	CreatedAt        time.Time  `json:"created_at"`
	DispatchedAt     *time.Time `json:"dispatched_at,omitempty"`
}
