package reconciler

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"golang-payment-matcher/internal/models"
)

// Config holds configuration options for the orchestrator
type Config struct {
	// AutoApprove moves a matched request straight to approved and credits the merchant
	AutoApprove bool `json:"auto_approve" mapstructure:"auto_approve"`

	// StatusCheckLookback widens the message scan of CheckRequest before the request's creation
	StatusCheckLookback time.Duration `json:"status_check_lookback" mapstructure:"status_check_lookback"`

	// BatchConcurrency bounds the number of messages ingested in parallel by IngestBatch
	BatchConcurrency int `json:"batch_concurrency" mapstructure:"batch_concurrency"`

	// DispatchOutbox publishes approval events right after the transaction that queued them
	DispatchOutbox bool `json:"dispatch_outbox" mapstructure:"dispatch_outbox"`

	// OutboxBatchSize caps how many pending events one dispatch run publishes
	OutboxBatchSize int `json:"outbox_batch_size" mapstructure:"outbox_batch_size"`
}

// DefaultConfig returns a default configuration for the orchestrator
func DefaultConfig() *Config {
	return &Config{
		AutoApprove:         true,
		StatusCheckLookback: 5 * time.Minute,
		BatchConcurrency:    4,
		DispatchOutbox:      true,
		OutboxBatchSize:     100,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var err error
	if c.StatusCheckLookback < 0 {
		err = multierr.Append(err, fmt.Errorf("status check lookback cannot be negative, got %s", c.StatusCheckLookback))
	}
	if c.BatchConcurrency <= 0 {
		err = multierr.Append(err, fmt.Errorf("batch concurrency must be positive, got %d", c.BatchConcurrency))
	}
	if c.OutboxBatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("outbox batch size must be positive, got %d", c.OutboxBatchSize))
	}
	return err
}

// IngestInput is a decoded notification as handed over by a transport
type IngestInput struct {
	Channel           string        `json:"channel"`
	Source            models.Source `json:"source"`
	MerchantID        string        `json:"merchant_id,omitempty"`
	SenderAddress     string        `json:"sender_address"`
	SenderDisplayName string        `json:"sender_display_name,omitempty"`
	Subject           string        `json:"subject"`
	TextBody          string        `json:"text_body"`
	HTMLBody          string        `json:"html_body"`
	ReceivedAt        time.Time     `json:"received_at"`

	// AmountHint is the credited amount when the transport knows it; blank if not
	AmountHint string `json:"amount_hint,omitempty"`
}

// Outcome is the result of one reconciliation pass
type Outcome struct {
	Matched              bool                    `json:"matched"`
	PaymentRequestID     string                  `json:"payment_request_id,omitempty"`
	TransactionReference string                  `json:"transaction_reference,omitempty"`
	RequestStatus        models.PaymentStatus    `json:"request_status,omitempty"`
	Reason               string                  `json:"reason"`
	MessageID            string                  `json:"message_id"`
	AttemptID            string                  `json:"attempt_id,omitempty"`
	Method               models.ExtractionMethod `json:"extraction_method,omitempty"`
	Warnings             []string                `json:"warnings,omitempty"`

	// Duplicate is set when the message had already been stored; no pass ran
	Duplicate bool `json:"duplicate,omitempty"`

	// Malformed is set when the message had neither a text nor an HTML body
	Malformed bool `json:"malformed,omitempty"`

	// AlreadyMatched is set when the message had settled a request before
	AlreadyMatched bool `json:"already_matched,omitempty"`
}

// Label classifies the outcome for progress counters and summaries
func (o *Outcome) Label() string {
	switch {
	case o.Duplicate:
		return "duplicate"
	case o.Malformed:
		return "malformed"
	case o.AlreadyMatched:
		return "already_matched"
	case o.Matched:
		return "matched"
	default:
		return "unmatched"
	}
}

// String returns a one line description
func (o *Outcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "message %s: %s", o.MessageID, o.Label())
	if o.PaymentRequestID != "" {
		fmt.Fprintf(&b, " request=%s", o.PaymentRequestID)
	}
	if o.Reason != "" {
		fmt.Fprintf(&b, " (%s)", o.Reason)
	}
	return b.String()
}

// RetryOutcome adds which bodies the re-extraction read
type RetryOutcome struct {
	Outcome
	TextBodyUsed bool `json:"text_body_used"`
	HTMLBodyUsed bool `json:"html_body_used"`
}

// CheckOutcome is the result of a status check on one request
type CheckOutcome struct {
	Request  *models.PaymentRequest `json:"request"`
	Scanned  int                    `json:"scanned"`
	Outcomes []*Outcome             `json:"outcomes,omitempty"`
	Reason   string                 `json:"reason"`
}

// Matched reports whether the checked request was settled by the check
func (c *CheckOutcome) Matched() bool {
	for _, o := range c.Outcomes {
		if o.Matched && o.PaymentRequestID == c.Request.ID {
			return true
		}
	}
	return false
}

// BatchItem pairs an input with its result
type BatchItem struct {
	Index   int      `json:"index"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
	Error   string   `json:"error,omitempty"`
}

// BatchResult summarises an IngestBatch run
type BatchResult struct {
	Items    []BatchItem      `json:"items"`
	Counts   map[string]int64 `json:"counts"`
	Duration time.Duration    `json:"duration"`
}

// Failed returns the items that ended in an error
func (r *BatchResult) Failed() []BatchItem {
	var out []BatchItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}
