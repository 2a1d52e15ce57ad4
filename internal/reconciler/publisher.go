package reconciler

import (
	"context"
	"time"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/logger"
)

// EventPublisher delivers outbox events to downstream consumers. Publish must
// be safe to call again for an event it already accepted; delivery is at least
// once.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// LogPublisher writes events to the log. It is the default when no broker is
// configured.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a publisher that logs each event at info level
func NewLogPublisher(log logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.WithComponent("outbox")
	}
	return &LogPublisher{logger: log}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event *models.OutboxEvent) error {
	p.logger.WithFields(logger.Fields{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"request_id":  event.PaymentRequestID,
		"merchant_id": event.MerchantID,
		"payload":     string(event.Payload),
	}).Info("event published")
	return nil
}

// DispatchStats reports one outbox dispatch run
type DispatchStats struct {
	Pending    int `json:"pending"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// DispatchOutbox hands pending events to the publisher, oldest first. An event
// the publisher refuses stays pending for the next run; only reading or
// updating the outbox itself returns an error.
func (o *Orchestrator) DispatchOutbox(ctx context.Context) (*DispatchStats, error) {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	events, err := o.store.Outbox.Pending(ctx, o.config.OutboxBatchSize)
	if err != nil {
		return nil, err
	}

	stats := &DispatchStats{Pending: len(events)}
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := o.publisher.Publish(ctx, event); err != nil {
			stats.Failed++
			o.logger.WithError(err).WithRequest(event.PaymentRequestID).
				WithField("event_id", event.ID).Warn("event publish failed, will retry")
			continue
		}
		if err := o.store.Outbox.MarkDispatched(ctx, event.ID, o.now().UTC()); err != nil {
			return stats, err
		}
		stats.Dispatched++
	}

	if stats.Pending > 0 {
		o.logger.WithFields(logger.Fields{
			"dispatched": stats.Dispatched,
			"failed":     stats.Failed,
		}).Debug("outbox dispatch finished")
	}
	return stats, nil
}

// dispatchQuietly runs a dispatch after a commit. The state change already
// happened, so failures are only logged.
func (o *Orchestrator) dispatchQuietly(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := o.DispatchOutbox(ctx); err != nil {
		o.logger.WithError(err).Warn("outbox dispatch failed")
	}
}
