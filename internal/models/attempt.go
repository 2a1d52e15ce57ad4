package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchResult is the outcome recorded on an attempt
type MatchResult string

const (
	ResultMatched   MatchResult = "matched"
	ResultUnmatched MatchResult = "unmatched"
)

// Trigger names the path that started a reconciliation pass
type Trigger string

const (
	TriggerIngest      Trigger = "ingest"
	TriggerRetry       Trigger = "retry"
	TriggerStatusCheck Trigger = "status_check"
)

// CandidateScore is the per-candidate breakdown computed by the matching engine
type CandidateScore struct {
	RequestID             string          `json:"request_id"`
	Reference             string          `json:"reference"`
	RequestAmount         decimal.Decimal `json:"request_amount"`
	AmountDiff            decimal.Decimal `json:"amount_diff"`
	AmountWithinTolerance bool            `json:"amount_within_tolerance"`
	PayerName             string          `json:"payer_name,omitempty"`
	NameSimilarityPercent *float64        `json:"name_similarity_percent,omitempty"`
	NameAccepted          bool            `json:"name_accepted"`
	TimeDiffMinutes       float64         `json:"time_diff_minutes"`
	TimeAccepted          bool            `json:"time_accepted"`
	Expired               bool            `json:"expired"`
	CreatedAt             time.Time       `json:"created_at"`
	Matched               bool            `json:"matched"`
	Failures              []string        `json:"failures,omitempty"`
}

// MatchAttempt is the append-only audit row written for every reconciliation pass
type MatchAttempt struct {
	ID                    string            `json:"id"`
	RawMessageID          string            `json:"raw_message_id"`
	PaymentRequestID      *string           `json:"payment_request_id"`
	TransactionReference  *string           `json:"transaction_reference"`
	Result                MatchResult       `json:"match_result"`
	ExtractionMethod      *ExtractionMethod `json:"extraction_method"`
	ExtractedAmount       *decimal.Decimal  `json:"extracted_amount"`
	PaymentAmount         *decimal.Decimal  `json:"payment_amount"`
	AmountDiff            *decimal.Decimal  `json:"amount_diff"`
	ExtractedName         *string           `json:"extracted_name"`
	PaymentName           *string           `json:"payment_name"`
	ExtractedAccount      *string           `json:"extracted_account"`
	PaymentAccount        *string           `json:"payment_account"`
	NameSimilarityPercent *float64          `json:"name_similarity_percent"`
	TimeDiffMinutes       *float64          `json:"time_diff_minutes"`
	Reason                string            `json:"reason"`
	Trigger               Trigger           `json:"trigger"`
	EmailSubject          string            `json:"email_subject"`
	EmailFrom             string            `json:"email_from"`
	EmailDate             time.Time         `json:"email_date"`
	ProcessingTimeMs      int64             `json:"processing_time_ms"`
	Diagnostics           *Diagnostics      `json:"diagnostic_details"`
	CreatedAt             time.Time         `json:"created_at"`
}

// Validate checks the attempt is internally consistent before it is written
func (a *MatchAttempt) Validate() error {
	var problems []string
	if a.ID == "" {
		problems = append(problems, "id is empty")
	}
	if a.RawMessageID == "" {
		problems = append(problems, "raw message id is empty")
	}
	switch a.Result {
	case ResultMatched:
		if a.PaymentRequestID == nil {
			problems = append(problems, "matched attempt has no payment request")
		}
		if a.ExtractedAmount == nil || a.PaymentAmount == nil {
			problems = append(problems, "matched attempt is missing amounts")
		}
	case ResultUnmatched:
	default:
		problems = append(problems, fmt.Sprintf("invalid result %q", a.Result))
	}
	switch a.Trigger {
	case TriggerIngest, TriggerRetry, TriggerStatusCheck:
	default:
		problems = append(problems, fmt.Sprintf("invalid trigger %q", a.Trigger))
	}
	if a.ExtractionMethod != nil && !a.ExtractionMethod.IsValid() {
		problems = append(problems, fmt.Sprintf("invalid extraction method %q", *a.ExtractionMethod))
	}
	if strings.TrimSpace(a.Reason) == "" {
		problems = append(problems, "reason is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid match attempt: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsMatched reports whether the attempt produced a match
func (a *MatchAttempt) IsMatched() bool {
	return a.Result == ResultMatched
}

// ApplyScore copies a candidate's breakdown onto the attempt
func (a *MatchAttempt) ApplyScore(s *CandidateScore, account string) {
	if s == nil {
		return
	}
	id, ref := s.RequestID, s.Reference
	a.PaymentRequestID = &id
	if ref != "" {
		a.TransactionReference = &ref
	}
	amount, diff := s.RequestAmount, s.AmountDiff
	a.PaymentAmount = &amount
	a.AmountDiff = &diff
	if s.PayerName != "" {
		name := s.PayerName
		a.PaymentName = &name
	}
	if account != "" {
		acc := account
		a.PaymentAccount = &acc
	}
	a.NameSimilarityPercent = s.NameSimilarityPercent
	minutes := s.TimeDiffMinutes
	a.TimeDiffMinutes = &minutes
}

// ApplyExtraction copies extracted fields onto the attempt
func (a *MatchAttempt) ApplyExtraction(info *ExtractedPaymentInfo) {
	if info == nil {
		return
	}
	method := info.Method
	a.ExtractionMethod = &method
	amount := info.Amount
	a.ExtractedAmount = &amount
	a.ExtractedName = info.SenderName
	a.ExtractedAccount = info.AccountNumber
}
