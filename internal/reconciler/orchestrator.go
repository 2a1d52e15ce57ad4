// Package reconciler drives a notification from ingestion to a settled
// payment request.
//
// The Orchestrator owns the state machine. Every pass over a message, whether
// started by ingestion, an operator retry or a status check on a request,
// writes exactly one match attempt. A winning pass settles the request in one
// store transaction and then hands the queued approval event to the
// EventPublisher.
//
// Example usage:
//
//	orch, err := reconciler.New(st, ex, engine, reconciler.DefaultConfig(),
//		reconciler.WithPublisher(reconciler.NewLogPublisher(log)))
//	outcome, err := orch.Ingest(ctx, reconciler.IngestInput{
//		Channel:       "payments@shop.example",
//		SenderAddress: "gens@gtbank.com",
//		Subject:       "GeNS Transaction Alert",
//		HTMLBody:      body,
//		ReceivedAt:    time.Now(),
//	})
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// ReasonDuplicate, ReasonNoAmount and friends are the fixed outcome reasons
const (
	ReasonDuplicate      = "duplicate message"
	ReasonNoAmount       = "no amount extracted"
	ReasonMalformed      = "malformed message: no text or HTML body"
	ReasonAlreadyMatched = "already matched"
)

// Orchestrator coordinates extraction, matching and settlement
type Orchestrator struct {
	store      *store.Store
	extractor  *extractor.Extractor
	selector   *matcher.Selector
	engine     *matcher.Engine
	duplicates *matcher.DuplicateDetector
	publisher  EventPublisher
	config     *Config
	logger     logger.Logger
	now        func() time.Time

	// serialises outbox dispatch runs within this process
	dispatchMu sync.Mutex
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithPublisher sets the receiver of approval events
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over a store, an extractor and a matching engine
func New(st *store.Store, ex *extractor.Extractor, engine *matcher.Engine, config *Config, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	if ex == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "extractor", nil, nil)
	}
	if engine == nil {
		engine = matcher.NewEngine(nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}

	o := &Orchestrator{
		store:      st,
		extractor:  ex,
		selector:   matcher.NewSelector(st.Requests),
		engine:     engine,
		duplicates: matcher.NewDuplicateDetector(engine.Config().DuplicateWindow),
		config:     config,
		logger:     logger.WithComponent("reconciler"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.publisher == nil {
		o.publisher = NewLogPublisher(o.logger)
	}
	return o, nil
}

// Config returns the orchestrator configuration
func (o *Orchestrator) Config() *Config {
	return o.config
}

// Ingest stores a notification and reconciles it. A redelivered notification
// is reported as a duplicate without a new pass. Unmatched and malformed
// messages are outcomes, not errors; errors mean the store failed or the
// input lacked its channel or receipt time.
func (o *Orchestrator) Ingest(ctx context.Context, in IngestInput) (*Outcome, error) {
	started := time.Now()

	msg, hintWarning, err := buildMessage(in)
	if err != nil {
		return nil, err
	}

	inserted, storedID, err := o.store.Messages.InsertIfAbsent(ctx, msg, o.now())
	if err != nil {
		return nil, err
	}
	if !inserted {
		o.logger.WithMessage(storedID).WithFields(logger.Fields{
			"unique_id": msg.UniqueID,
			"channel":   msg.Channel,
		}).Info("duplicate message skipped")
		return &Outcome{Duplicate: true, Reason: ReasonDuplicate, MessageID: storedID}, nil
	}

	info, diag := o.extractor.Extract(msg)
	if hintWarning != "" {
		diag.AddWarning(hintWarning)
	}
	return o.reconcile(ctx, msg, models.TriggerIngest, info, diag, started)
}

// buildMessage turns the transport input into a message. The second return
// value is a warning about an amount hint that was dropped.
func buildMessage(in IngestInput) (*models.RawMessage, string, error) {
	if strings.TrimSpace(in.Channel) == "" {
		return nil, "", errors.ValidationError(errors.CodeMissingField, "channel", in.Channel, nil)
	}
	if in.ReceivedAt.IsZero() {
		return nil, "", errors.ValidationError(errors.CodeMissingField, "received_at", in.ReceivedAt, nil)
	}

	source := in.Source
	if source == "" {
		source = models.SourceAPI
	}

	msg := &models.RawMessage{
		ID:                uuid.NewString(),
		UniqueID:          models.ComputeUniqueID(in.SenderAddress, in.ReceivedAt, in.Subject, in.TextBody, in.HTMLBody),
		Channel:           strings.TrimSpace(in.Channel),
		Source:            source,
		MerchantID:        in.MerchantID,
		SenderAddress:     strings.TrimSpace(in.SenderAddress),
		SenderDisplayName: strings.TrimSpace(in.SenderDisplayName),
		Subject:           in.Subject,
		TextBody:          in.TextBody,
		HTMLBody:          in.HTMLBody,
		ReceivedAt:        in.ReceivedAt.UTC(),
	}

	var warning string
	hint, err := models.ParseOptionalAmount(in.AmountHint)
	switch {
	case err != nil:
		warning = fmt.Sprintf("amount hint %q ignored: %v", in.AmountHint, err)
	case hint != nil && !hint.IsPositive():
		warning = fmt.Sprintf("amount hint %q ignored: not positive", in.AmountHint)
	default:
		msg.AmountHint = hint
	}

	if err := msg.Validate(); err != nil {
		return nil, "", errors.InputError(errors.CodeMissingField, "message", err)
	}
	return msg, warning, nil
}

// Retry re-extracts a stored message, text body first, and reconciles it
// again. A message that already settled a request is reported as such and no
// pass runs.
func (o *Orchestrator) Retry(ctx context.Context, messageID string) (*RetryOutcome, error) {
	started := time.Now()

	stored, err := o.store.Messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if stored.State.Matched {
		return &RetryOutcome{Outcome: Outcome{
			AlreadyMatched:   true,
			Matched:          true,
			PaymentRequestID: stored.State.MatchedRequestID,
			Reason:           ReasonAlreadyMatched,
			MessageID:        stored.ID,
		}}, nil
	}

	msg := stored.RawMessage
	re := o.extractor.ReExtract(&msg)
	outcome, err := o.reconcile(ctx, &msg, models.TriggerRetry, re.Info, re.Diagnostics, started)
	if err != nil {
		return nil, err
	}
	return &RetryOutcome{
		Outcome:      *outcome,
		TextBodyUsed: re.TextBodyUsed,
		HTMLBodyUsed: re.HTMLBodyUsed,
	}, nil
}

// CheckRequest reconciles the stored unmatched messages that could settle a
// pending request, oldest first, stopping as soon as the request is no longer
// pending. The scan starts StatusCheckLookback before the request was created.
func (o *Orchestrator) CheckRequest(ctx context.Context, requestID string) (*CheckOutcome, error) {
	req, err := o.store.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &CheckOutcome{Request: req}
	if req.Status != models.StatusPending {
		result.Reason = fmt.Sprintf("request is %s", req.Status)
		return result, nil
	}

	since := req.CreatedAt.Add(-o.config.StatusCheckLookback)
	messages, err := o.store.Messages.UnmatchedSince(ctx, req.MerchantID, since)
	if err != nil {
		return nil, err
	}

	log := o.logger.WithFields(logger.Fields{
		"request_id": req.ID,
		"reference":  req.Reference,
		"candidates": len(messages),
	})
	log.Debug("status check started")

	for _, stored := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg := stored.RawMessage
		started := time.Now()
		info, diag := o.extractor.Extract(&msg)
		outcome, err := o.reconcile(ctx, &msg, models.TriggerStatusCheck, info, diag, started)
		if err != nil {
			return nil, err
		}
		result.Scanned++
		result.Outcomes = append(result.Outcomes, outcome)

		if !outcome.Matched {
			continue
		}
		if req, err = o.store.Requests.Get(ctx, requestID); err != nil {
			return nil, err
		}
		result.Request = req
		if req.Status != models.StatusPending {
			break
		}
	}

	switch {
	case result.Matched():
		result.Reason = fmt.Sprintf("settled by message %s", result.Request.MatchedMessageID)
	case result.Scanned == 0:
		result.Reason = "no unmatched messages in scope"
	default:
		result.Reason = fmt.Sprintf("no match among %d message(s)", result.Scanned)
	}
	log.WithField("scanned", result.Scanned).Info(result.Reason)
	return result, nil
}

// reconcile runs one pass over an already extracted message and records it
func (o *Orchestrator) reconcile(ctx context.Context, msg *models.RawMessage, trigger models.Trigger,
	info *models.ExtractedPaymentInfo, diag *models.Diagnostics, started time.Time) (*Outcome, error) {

	log := o.logger.WithMessage(msg.ID).WithFields(logger.Fields{
		"trigger": trigger,
		"sender":  msg.SenderAddress,
	})

	attempt := &models.MatchAttempt{
		ID:           uuid.NewString(),
		RawMessageID: msg.ID,
		Result:       models.ResultUnmatched,
		Trigger:      trigger,
		EmailSubject: msg.Subject,
		EmailFrom:    msg.From(),
		EmailDate:    msg.ReceivedAt,
		Diagnostics:  diag,
	}
	outcome := &Outcome{MessageID: msg.ID}

	if !msg.HasBody() {
		log.WithFields(logger.Fields{
			"unique_id": msg.UniqueID,
			"channel":   msg.Channel,
			"subject":   msg.Subject,
			"steps":     diag.Summary(),
		}).WithError(errors.InputError(errors.CodeMalformedMessage, "body", nil)).Error("malformed message")

		attempt.Reason = ReasonMalformed
		outcome.Malformed = true
		return o.recordUnmatched(ctx, attempt, nil, outcome, started)
	}

	info = applyHint(msg, info, diag)
	if info == nil {
		log.WithField("steps", diag.Summary()).Info(ReasonNoAmount)
		attempt.Reason = ReasonNoAmount
		return o.recordUnmatched(ctx, attempt, nil, outcome, started)
	}
	attempt.ApplyExtraction(info)
	if info.Method == "" {
		attempt.ExtractionMethod = nil
	}
	outcome.Method = info.Method

	candidates, err := o.selector.SelectCandidates(ctx, info, msg)
	if err != nil {
		return nil, err
	}
	decision := o.engine.Evaluate(info, msg, candidates)
	diag.Scores = decision.Scores
	o.warnDuplicates(ctx, info, msg, diag)
	outcome.Warnings = diag.Warnings

	score, req := decision.Attributed()
	if score != nil {
		attempt.ApplyScore(score, req.AccountNumber)
		outcome.PaymentRequestID = req.ID
		outcome.TransactionReference = req.Reference
		outcome.RequestStatus = req.Status
	}
	attempt.Reason = decision.Reason

	if !decision.Matched() {
		log.WithField("candidates", len(candidates)).Info(decision.Reason)
		return o.recordUnmatched(ctx, attempt, info, outcome, started)
	}

	attempt.Result = models.ResultMatched
	attempt.ProcessingTimeMs = time.Since(started).Milliseconds()
	attempt.CreatedAt = o.now().UTC()

	settled, err := o.store.Settle(ctx, store.Settlement{
		MessageID:   msg.ID,
		RequestID:   req.ID,
		AutoApprove: o.config.AutoApprove,
		Attempt:     attempt,
		Info:        info,
		At:          attempt.CreatedAt,
	})
	if errors.HasCode(err, errors.CodeConflict) {
		return o.lostRace(ctx, attempt, info, outcome, err, started)
	}
	if err != nil {
		return nil, err
	}

	outcome.Matched = true
	outcome.RequestStatus = settled.Request.Status
	outcome.AttemptID = attempt.ID
	outcome.Reason = attempt.Reason
	log.WithRequest(settled.Request.ID).WithField("status", settled.Request.Status).Info(attempt.Reason)

	if settled.Event != nil && o.config.DispatchOutbox {
		o.dispatchQuietly(ctx)
	}
	return outcome, nil
}

// lostRace records the pass that found a winner but lost the claim to a
// concurrent pass
func (o *Orchestrator) lostRace(ctx context.Context, attempt *models.MatchAttempt, info *models.ExtractedPaymentInfo,
	outcome *Outcome, cause error, started time.Time) (*Outcome, error) {

	claimed := attempt.ID
	attempt.ID = uuid.NewString()
	attempt.Result = models.ResultUnmatched

	if errors.Is(cause, store.ErrMessageClaimed) {
		attempt.Reason = "message was matched by a concurrent pass; " + attempt.Reason
		outcome.AlreadyMatched = true
	} else {
		attempt.Reason = fmt.Sprintf("request %s was claimed concurrently; %s", outcome.PaymentRequestID, attempt.Reason)
	}

	o.logger.WithMessage(attempt.RawMessageID).WithRequest(outcome.PaymentRequestID).
		WithField("discarded_claim", claimed).Warn(attempt.Reason)

	return o.recordUnmatched(ctx, attempt, info, outcome, started)
}

func (o *Orchestrator) recordUnmatched(ctx context.Context, attempt *models.MatchAttempt, info *models.ExtractedPaymentInfo,
	outcome *Outcome, started time.Time) (*Outcome, error) {

	attempt.Result = models.ResultUnmatched
	attempt.ProcessingTimeMs = time.Since(started).Milliseconds()
	attempt.CreatedAt = o.now().UTC()

	if err := o.store.Messages.RecordUnmatched(ctx, attempt, info); err != nil {
		return nil, err
	}
	outcome.AttemptID = attempt.ID
	outcome.Reason = attempt.Reason
	return outcome, nil
}

// applyHint lets a transport supplied amount override the extracted one
func applyHint(msg *models.RawMessage, info *models.ExtractedPaymentInfo, diag *models.Diagnostics) *models.ExtractedPaymentInfo {
	if msg.AmountHint == nil {
		return info
	}
	if info == nil {
		info = &models.ExtractedPaymentInfo{}
	} else if !info.Amount.Equal(*msg.AmountHint) {
		diag.AddWarning(fmt.Sprintf("amount hint %s overrides extracted amount %s",
			msg.AmountHint.StringFixed(2), info.Amount.StringFixed(2)))
	}
	info.Amount = *msg.AmountHint
	info.AmountSource = models.AmountHint
	return info
}

func (o *Orchestrator) warnDuplicates(ctx context.Context, info *models.ExtractedPaymentInfo, msg *models.RawMessage, diag *models.Diagnostics) {
	if o.duplicates.Window() <= 0 || info.Name() == "" {
		return
	}
	approved, err := o.store.Requests.RecentApprovals(ctx, msg.MerchantID, o.duplicates.Since(msg))
	if err != nil {
		o.logger.WithError(err).WithMessage(msg.ID).Warn("duplicate payment check skipped")
		return
	}
	for _, w := range o.duplicates.Detect(info, msg, approved) {
		diag.AddWarning(w.Reason)
	}
}
