package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// RequestRepo stores payment requests. It implements matcher.RequestSource
// and matcher.ApprovalSource.
type RequestRepo struct {
	db *sql.DB
}

// NewRequestRepo creates a request repository
func NewRequestRepo(db *sql.DB) *RequestRepo {
	return &RequestRepo{db: db}
}

var (
	_ matcher.RequestSource  = (*RequestRepo)(nil)
	_ matcher.ApprovalSource = (*RequestRepo)(nil)
)

const requestColumns = `id, reference, merchant_id, amount, payer_name_hint, account_number, status,
	created_at, expires_at, matched_at, approved_at, rejected_at, rejection_reason, matched_message_id`

// Create stores a new payment request
func (r *RequestRepo) Create(ctx context.Context, req *models.PaymentRequest) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(errors.CodeMissingField, "payment_request", req.ID, err)
	}
	if _, err := insertRequest(ctx, r.db, req, false); err != nil {
		return err
	}
	return nil
}

// Import stores requests in one transaction, skipping IDs that already exist.
// It returns how many rows were inserted.
func (r *RequestRepo) Import(ctx context.Context, requests []*models.PaymentRequest) (int, error) {
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return 0, errors.ValidationError(errors.CodeMissingField, "payment_request", req.ID, err)
		}
	}

	inserted := 0
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, req := range requests {
			ok, err := insertRequest(ctx, tx, req, true)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertRequest(ctx context.Context, q queryer, req *models.PaymentRequest, skipExisting bool) (bool, error) {
	query := `INSERT INTO payment_requests(` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if skipExisting {
		query += ` ON CONFLICT(id) DO NOTHING`
	}

	var matchedMessage sql.NullString
	if req.MatchedMessageID != "" {
		matchedMessage = sql.NullString{String: req.MatchedMessageID, Valid: true}
	}

	res, err := q.ExecContext(ctx, query,
		req.ID, req.Reference, req.MerchantID, req.Amount.String(), nullString(req.PayerNameHint),
		req.AccountNumber, string(req.Status), formatTime(req.CreatedAt), formatTimePtr(req.ExpiresAt),
		formatTimePtr(req.MatchedAt), formatTimePtr(req.ApprovedAt), formatTimePtr(req.RejectedAt),
		req.RejectionReason, matchedMessage)
	if err != nil {
		code := errors.CodeQueryFailed
		if strings.Contains(err.Error(), "UNIQUE") {
			code = errors.CodeConflict
		}
		return false, errors.StorageError(code, "insert payment request", err).
			WithContext("request_id", req.ID).
			WithContext("reference", req.Reference)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.StorageError(errors.CodeQueryFailed, "insert payment request", err)
	}
	return n == 1, nil
}

// Get returns a request by ID
func (r *RequestRepo) Get(ctx context.Context, id string) (*models.PaymentRequest, error) {
	return getRequest(ctx, r.db, id)
}

func getRequest(ctx context.Context, q queryer, id string) (*models.PaymentRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeNotFound, "get payment request", err).
			WithContext("request_id", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get payment request", err).
			WithContext("request_id", id)
	}
	return req, nil
}

// RequestFilter narrows List
type RequestFilter struct {
	Status     models.PaymentStatus
	MerchantID string
	Limit      int
}

// List returns requests matching the filter, newest first
func (r *RequestRepo) List(ctx context.Context, f RequestFilter) ([]*models.PaymentRequest, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, f.MerchantID)
	}

	query := `SELECT ` + requestColumns + ` FROM payment_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.query(ctx, "list payment requests", query, args...)
}

// PendingRequests implements matcher.RequestSource
func (r *RequestRepo) PendingRequests(ctx context.Context, q matcher.RequestQuery) ([]*models.PaymentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM payment_requests WHERE status = 'pending'`
	var args []any
	if q.MerchantID != "" {
		query += ` AND merchant_id = ?`
		args = append(args, q.MerchantID)
	}
	if !q.LiveAt.IsZero() {
		query += ` AND (expires_at IS NULL OR expires_at > ?)`
		args = append(args, formatTime(q.LiveAt))
	}
	query += ` ORDER BY created_at, id`

	requests, err := r.query(ctx, "select pending requests", query, args...)
	if err != nil {
		return nil, err
	}

	// stored account numbers keep their original formatting
	if acc := models.NormalizeAccountNumber(q.AccountNumber); acc != "" {
		filtered := requests[:0]
		for _, req := range requests {
			if models.NormalizeAccountNumber(req.AccountNumber) == acc {
				filtered = append(filtered, req)
			}
		}
		requests = filtered
	}
	return requests, nil
}

// RecentApprovals implements matcher.ApprovalSource
func (r *RequestRepo) RecentApprovals(ctx context.Context, merchantID string, since time.Time) ([]*models.PaymentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM payment_requests WHERE status = 'approved' AND created_at >= ?`
	args := []any{formatTime(since)}
	if merchantID != "" {
		query += ` AND merchant_id = ?`
		args = append(args, merchantID)
	}
	query += ` ORDER BY created_at DESC`
	return r.query(ctx, "select recent approvals", query, args...)
}

// StatusCounts returns the number of requests per status
func (r *RequestRepo) StatusCounts(ctx context.Context) (map[models.PaymentStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM payment_requests GROUP BY status`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "count payment requests", err)
	}
	defer rows.Close()

	counts := make(map[models.PaymentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "count payment requests", err)
		}
		counts[models.PaymentStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *RequestRepo) query(ctx context.Context, op, query string, args ...any) ([]*models.PaymentRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, op, err)
	}
	defer rows.Close()

	var out []*models.PaymentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, op, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, op, err)
	}
	return out, nil
}

func scanRequest(s scanner) (*models.PaymentRequest, error) {
	var (
		req                                      models.PaymentRequest
		amount, status, createdAt                string
		payer, matchedMessage                    sql.NullString
		expiresAt, matchedAt, approvedAt, reject sql.NullString
	)
	err := s.Scan(&req.ID, &req.Reference, &req.MerchantID, &amount, &payer, &req.AccountNumber, &status,
		&createdAt, &expiresAt, &matchedAt, &approvedAt, &reject, &req.RejectionReason, &matchedMessage)
	if err != nil {
		return nil, err
	}

	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	req.Status = models.PaymentStatus(status)
	req.PayerNameHint = stringPtr(payer)
	req.MatchedMessageID = matchedMessage.String
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&req.ExpiresAt, expiresAt},
		{&req.MatchedAt, matchedAt},
		{&req.ApprovedAt, approvedAt},
		{&req.RejectedAt, reject},
	} {
		if *f.dst, err = parseTimePtr(f.src); err != nil {
			return nil, err
		}
	}
	return &req, nil
}
