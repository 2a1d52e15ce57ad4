package store

import (
	"context"
	"database/sql"
	"time"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// OutboxRepo holds events written in the same transaction as the state change
// that caused them. Rows stay pending until a publisher accepts them.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo creates an outbox repository
func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

func insertEvent(ctx context.Context, q queryer, e *models.OutboxEvent) error {
	_, err := q.ExecContext(ctx, `
	INSERT INTO outbox_events(id, type, payment_request_id, merchant_id, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.PaymentRequestID, e.MerchantID, string(e.Payload), formatTime(e.CreatedAt))
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "insert outbox event", err).
			WithContext("event_id", e.ID)
	}
	return nil
}

// Pending returns undispatched events, oldest first
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	query := `SELECT id, type, payment_request_id, merchant_id, payload, created_at, dispatched_at
	FROM outbox_events WHERE dispatched_at IS NULL ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list outbox events", err)
	}
	defer rows.Close()

	var out []*models.OutboxEvent
	for rows.Next() {
		var (
			e                  models.OutboxEvent
			payload, createdAt string
			dispatchedAt       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.PaymentRequestID, &e.MerchantID, &payload, &createdAt, &dispatchedAt); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list outbox events", err)
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list outbox events", err)
		}
		if e.DispatchedAt, err = parseTimePtr(dispatchedAt); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list outbox events", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list outbox events", err)
	}
	return out, nil
}

// MarkDispatched records that an event was delivered. Marking twice is a no-op.
func (r *OutboxRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "mark outbox event dispatched", err).
			WithContext("event_id", id)
	}
	return nil
}
