package reconciler

import (
	"context"
	"strings"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/pkg/errors"
)

// Approve confirms a matched request, credits the merchant and publishes the
// approval event
func (o *Orchestrator) Approve(ctx context.Context, requestID string) (*store.SettlementResult, error) {
	result, err := o.store.Approve(ctx, requestID, o.now().UTC())
	if err != nil {
		return nil, err
	}
	if o.config.DispatchOutbox {
		o.dispatchQuietly(ctx)
	}
	return result, nil
}

// Reject refuses a matched request. The message that settled it stays linked
// to the rejected request, so retries report it as already matched.
func (o *Orchestrator) Reject(ctx context.Context, requestID, reason string) (*models.PaymentRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "reason", reason, nil)
	}
	return o.store.Reject(ctx, requestID, reason, o.now().UTC())
}

// ExpireDue expires every pending request whose deadline has passed
func (o *Orchestrator) ExpireDue(ctx context.Context) ([]*models.PaymentRequest, error) {
	return o.store.ExpireDue(ctx, o.now().UTC())
}
