package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

var (
	// ErrMessageClaimed means another pass matched the message first
	ErrMessageClaimed = stderrors.New("message already matched")

	// ErrRequestClaimed means the request left pending before this pass committed
	ErrRequestClaimed = stderrors.New("payment request no longer pending")
)

// Settlement is everything written when a message settles a request
type Settlement struct {
	MessageID   string
	RequestID   string
	AutoApprove bool
	Attempt     *models.MatchAttempt
	Info        *models.ExtractedPaymentInfo
	At          time.Time
}

// SettlementResult reports the committed state
type SettlementResult struct {
	Request *models.PaymentRequest
	Balance *models.MerchantBalance
	Event   *models.OutboxEvent
}

// Settle claims the message and the request and records the matched attempt
// in one transaction. With AutoApprove the request goes straight to approved,
// the merchant is credited and a payment.approved event is queued.
//
// A lost race on either row rolls everything back and returns a conflict
// error wrapping ErrMessageClaimed or ErrRequestClaimed.
func (s *Store) Settle(ctx context.Context, st Settlement) (*SettlementResult, error) {
	result := &SettlementResult{}
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := claimMessage(ctx, tx, st.MessageID, st.RequestID, st.At)
		if err != nil {
			return err
		}
		if !ok {
			return errors.MatchingError(errors.CodeConflict, st.RequestID, ErrMessageClaimed).
				WithContext("message_id", st.MessageID)
		}

		status := models.StatusMatched
		var approvedAt sql.NullString
		if st.AutoApprove {
			status = models.StatusApproved
			approvedAt = sql.NullString{String: formatTime(st.At), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
		UPDATE payment_requests SET status = ?, matched_at = ?, approved_at = ?, matched_message_id = ?
		WHERE id = ? AND status = 'pending'`,
			string(status), formatTime(st.At), approvedAt, st.MessageID, st.RequestID)
		if err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "claim payment request", err).
				WithContext("request_id", st.RequestID)
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "claim payment request", err)
		} else if n != 1 {
			return errors.MatchingError(errors.CodeConflict, st.RequestID, ErrRequestClaimed).
				WithContext("message_id", st.MessageID)
		}

		req, err := getRequest(ctx, tx, st.RequestID)
		if err != nil {
			return err
		}
		result.Request = req

		if st.AutoApprove {
			if result.Balance, result.Event, err = approveEffects(ctx, tx, req, st.At); err != nil {
				return err
			}
		}

		if err := insertAttempt(ctx, tx, st.Attempt); err != nil {
			return err
		}
		return recordPass(ctx, tx, st.MessageID, st.Attempt.Reason, st.Info)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logFields(result.Request)).Info("payment request settled")
	return result, nil
}

// Approve moves a matched request to approved, credits the merchant and
// queues the approval event
func (s *Store) Approve(ctx context.Context, requestID string, at time.Time) (*SettlementResult, error) {
	result := &SettlementResult{}
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		req, err := transition(ctx, tx, requestID, models.StatusApproved, `approved_at = ?`, formatTime(at))
		if err != nil {
			return err
		}
		result.Request = req
		result.Balance, result.Event, err = approveEffects(ctx, tx, req, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logFields(result.Request)).Info("payment request approved")
	return result, nil
}

// Reject moves a matched request to rejected. Its message stays claimed by
// the rejected request and never settles another one.
func (s *Store) Reject(ctx context.Context, requestID, reason string, at time.Time) (*models.PaymentRequest, error) {
	var req *models.PaymentRequest
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		req, err = transition(ctx, tx, requestID, models.StatusRejected,
			`rejected_at = ?, rejection_reason = ?`, formatTime(at), reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logFields(req)).WithField("reason", reason).Info("payment request rejected")
	return req, nil
}

// ExpireDue moves every pending request whose expiry is at or before now to
// expired and returns them
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]*models.PaymentRequest, error) {
	var expired []*models.PaymentRequest
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM payment_requests
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at, id`,
			formatTime(now))
		if err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "select due requests", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.StorageError(errors.CodeQueryFailed, "select due requests", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "select due requests", err)
		}

		for _, id := range ids {
			req, err := transition(ctx, tx, id, models.StatusExpired, "")
			if err != nil {
				return err
			}
			expired = append(expired, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("expired payment requests")
	}
	return expired, nil
}

// transition performs a checked status change. set holds extra assignments
// for the UPDATE and args their values.
func transition(ctx context.Context, tx *sql.Tx, requestID string, next models.PaymentStatus, set string, args ...any) (*models.PaymentRequest, error) {
	req, err := getRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, errors.ValidationError(errors.CodeIllegalTransition, "status",
			fmt.Sprintf("%s→%s", req.Status, next), nil).
			WithContext("request_id", requestID)
	}

	query := `UPDATE payment_requests SET status = ?`
	if set != "" {
		query += `, ` + set
	}
	query += ` WHERE id = ? AND status = ?`
	params := append([]any{string(next)}, args...)
	params = append(params, requestID, string(req.Status))

	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "update payment request status", err).
			WithContext("request_id", requestID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "update payment request status", err)
	} else if n != 1 {
		return nil, errors.MatchingError(errors.CodeConflict, requestID, ErrRequestClaimed)
	}
	return getRequest(ctx, tx, requestID)
}

type approvedPayload struct {
	Event            string `json:"event"`
	PaymentRequestID string `json:"payment_request_id"`
	Reference        string `json:"reference"`
	MerchantID       string `json:"merchant_id"`
	Amount           string `json:"amount"`
	MessageID        string `json:"message_id,omitempty"`
	ApprovedAt       string `json:"approved_at"`
}

// approveEffects credits the merchant and queues the approval event
func approveEffects(ctx context.Context, q queryer, req *models.PaymentRequest, at time.Time) (*models.MerchantBalance, *models.OutboxEvent, error) {
	balance, err := creditBalance(ctx, q, req.MerchantID, req.Amount, at)
	if err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(approvedPayload{
		Event:            models.EventPaymentApproved,
		PaymentRequestID: req.ID,
		Reference:        req.Reference,
		MerchantID:       req.MerchantID,
		Amount:           req.Amount.StringFixed(2),
		MessageID:        req.MatchedMessageID,
		ApprovedAt:       at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, nil, errors.InternalError(errors.CodeUnexpectedError, "encode approval event", err)
	}

	event := &models.OutboxEvent{
		ID:               uuid.NewString(),
		Type:             models.EventPaymentApproved,
		PaymentRequestID: req.ID,
		MerchantID:       req.MerchantID,
		Payload:          payload,
		CreatedAt:        at.UTC(),
	}
	if err := insertEvent(ctx, q, event); err != nil {
		return nil, nil, err
	}
	return balance, event, nil
}

func logFields(req *models.PaymentRequest) logger.Fields {
	if req == nil {
		return nil
	}
	return logger.Fields{
		"request_id":  req.ID,
		"reference":   req.Reference,
		"merchant_id": req.MerchantID,
		"amount":      req.Amount.StringFixed(2),
		"status":      req.Status,
	}
}
