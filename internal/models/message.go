package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the transport path a message arrived through
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceIMAP    Source = "imap"
	SourceAPI     Source = "api"
	SourceFile    Source = "file"
)

// IsValid checks if the source is known
func (s Source) IsValid() bool {
	switch s {
	case SourceWebhook, SourceIMAP, SourceAPI, SourceFile:
		return true
	default:
		return false
	}
}

// RawMessage is one bank notification as handed over by the transport.
// It is never modified after ingestion.
type RawMessage struct {
	ID                string           `json:"id"`
	UniqueID          string           `json:"unique_id"`
	Channel           string           `json:"channel"`
	Source            Source           `json:"source"`
	MerchantID        string           `json:"merchant_id,omitempty"`
	SenderAddress     string           `json:"sender_address"`
	SenderDisplayName string           `json:"sender_display_name,omitempty"`
	Subject           string           `json:"subject"`
	TextBody          string           `json:"text_body"`
	HTMLBody          string           `json:"html_body"`
	ReceivedAt        time.Time        `json:"received_at"`
	AmountHint        *decimal.Decimal `json:"amount_hint,omitempty"`
}

// ComputeUniqueID derives the idempotency key of a message from its sender,
// receive time and content
func ComputeUniqueID(senderAddress string, receivedAt time.Time, subject, textBody, htmlBody string) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToLower(strings.TrimSpace(senderAddress)),
		receivedAt.UTC().Format(time.RFC3339Nano),
		subject,
		textBody,
		htmlBody,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HasBody reports whether either body carries non-whitespace content
func (m *RawMessage) HasBody() bool {
	return strings.TrimSpace(m.TextBody) != "" || strings.TrimSpace(m.HTMLBody) != ""
}

// From renders the sender the way a mail client would
func (m *RawMessage) From() string {
	if m.SenderDisplayName == "" {
		return m.SenderAddress
	}
	return fmt.Sprintf("%s <%s>", m.SenderDisplayName, m.SenderAddress)
}

// Validate performs structural validation; empty bodies are not a validation
// failure here because they are recorded as a malformed attempt instead
func (m *RawMessage) Validate() error {
	if strings.TrimSpace(m.Channel) == "" {
		return fmt.Errorf("message channel cannot be empty")
	}
	if m.ReceivedAt.IsZero() {
		return fmt.Errorf("message received time cannot be zero")
	}
	if m.UniqueID == "" {
		return fmt.Errorf("message unique id cannot be empty")
	}
	if m.Source != "" && !m.Source.IsValid() {
		return fmt.Errorf("invalid message source: %s", m.Source)
	}
	if m.AmountHint != nil && !m.AmountHint.IsPositive() {
		return fmt.Errorf("amount hint must be positive, got %s", m.AmountHint.String())
	}
	return nil
}

// WithBodies returns a copy restricted to the given bodies; used to run
// extraction against one body at a time
func (m *RawMessage) WithBodies(text, html string) *RawMessage {
	cp := *m
	cp.TextBody = text
	cp.HTMLBody = html
	return &cp
}

// MessageState is the mutable bookkeeping kept next to a stored message
type MessageState struct {
	Matched            bool                  `json:"matched"`
	MatchedRequestID   string                `json:"matched_request_id,omitempty"`
	MatchedAt          *time.Time            `json:"matched_at,omitempty"`
	LastMatchReason    string                `json:"last_match_reason,omitempty"`
	MatchAttemptsCount int                   `json:"match_attempts_count"`
	ExtractionMethod   *ExtractionMethod     `json:"extraction_method,omitempty"`
	ExtractedInfo      *ExtractedPaymentInfo `json:"extracted_info,omitempty"`
}

// StoredMessage is a RawMessage together with its processing state
type StoredMessage struct {
	RawMessage
	State     MessageState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}
