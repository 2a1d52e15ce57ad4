package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// AttemptRepo is the append-only match attempt log
type AttemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates an attempt repository
func NewAttemptRepo(db *sql.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

const attemptColumns = `id, raw_message_id, payment_request_id, transaction_reference, result, extraction_method,
	extracted_amount, payment_amount, amount_diff, extracted_name, payment_name, extracted_account,
	payment_account, name_similarity_percent, time_diff_minutes, reason, trigger_type, email_subject,
	email_from, email_date, processing_time_ms, diagnostics, created_at`

// Insert appends an attempt
func (r *AttemptRepo) Insert(ctx context.Context, a *models.MatchAttempt) error {
	return insertAttempt(ctx, r.db, a)
}

func insertAttempt(ctx context.Context, q queryer, a *models.MatchAttempt) error {
	if err := a.Validate(); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "record match attempt", err).
			WithContext("attempt_id", a.ID)
	}

	var diagnostics sql.NullString
	if a.Diagnostics != nil {
		data, err := json.Marshal(a.Diagnostics)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode diagnostics", err)
		}
		diagnostics = sql.NullString{String: string(data), Valid: true}
	}

	var method sql.NullString
	if a.ExtractionMethod != nil {
		method = sql.NullString{String: string(*a.ExtractionMethod), Valid: true}
	}

	var emailDate sql.NullString
	if !a.EmailDate.IsZero() {
		emailDate = sql.NullString{String: formatTime(a.EmailDate), Valid: true}
	}

	_, err := q.ExecContext(ctx, `INSERT INTO match_attempts(`+attemptColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RawMessageID, nullString(a.PaymentRequestID), nullString(a.TransactionReference),
		string(a.Result), method, nullDecimal(a.ExtractedAmount), nullDecimal(a.PaymentAmount),
		nullDecimal(a.AmountDiff), nullString(a.ExtractedName), nullString(a.PaymentName),
		nullString(a.ExtractedAccount), nullString(a.PaymentAccount), nullFloat(a.NameSimilarityPercent),
		nullFloat(a.TimeDiffMinutes), a.Reason, string(a.Trigger), a.EmailSubject, a.EmailFrom,
		emailDate, a.ProcessingTimeMs, diagnostics, formatTime(a.CreatedAt))
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "record match attempt", err).
			WithContext("attempt_id", a.ID).
			WithContext("message_id", a.RawMessageID)
	}
	return nil
}

// AttemptFilter narrows Query. Zero values mean no restriction.
type AttemptFilter struct {
	Result    models.MatchResult
	Method    models.ExtractionMethod
	RequestID string
	MessageID string

	// Search matches the reason, subject, sender, names or reference
	Search string

	Since time.Time
	Until time.Time

	// Limit caps the result; Offset is ignored without it
	Limit  int
	Offset int
}

// likeEscaper makes search text match literally inside a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f AttemptFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Result != "" {
		clauses = append(clauses, "result = ?")
		args = append(args, string(f.Result))
	}
	if f.Method != "" {
		clauses = append(clauses, "extraction_method = ?")
		args = append(args, string(f.Method))
	}
	if f.RequestID != "" {
		clauses = append(clauses, "payment_request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.MessageID != "" {
		clauses = append(clauses, "raw_message_id = ?")
		args = append(args, f.MessageID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		clauses = append(clauses, `(LOWER(reason) LIKE ? ESCAPE '\' OR LOWER(email_subject) LIKE ? ESCAPE '\'
			OR LOWER(email_from) LIKE ? ESCAPE '\' OR LOWER(COALESCE(extracted_name, '')) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(payment_name, '')) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(transaction_reference, '')) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like, like, like)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(f.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns attempts matching f, newest first
func (r *AttemptRepo) Query(ctx context.Context, f AttemptFilter) ([]*models.MatchAttempt, error) {
	where, args := f.where()
	query := `SELECT ` + attemptColumns + ` FROM match_attempts` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "query match attempts", err)
	}
	defer rows.Close()

	var out []*models.MatchAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "query match attempts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "query match attempts", err)
	}
	return out, nil
}

// Count returns the number of attempts matching f, ignoring Limit and Offset
func (r *AttemptRepo) Count(ctx context.Context, f AttemptFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_attempts`+where, args...).Scan(&n); err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "count match attempts", err)
	}
	return n, nil
}

func scanAttempt(s scanner) (*models.MatchAttempt, error) {
	var (
		a                               models.MatchAttempt
		requestID, reference, method    sql.NullString
		extractedAmount, paymentAmount  sql.NullString
		amountDiff, extractedName       sql.NullString
		paymentName, extractedAccount   sql.NullString
		paymentAccount, emailDate, diag sql.NullString
		similarity, timeDiff            sql.NullFloat64
		result, trigger, createdAt      string
	)
	err := s.Scan(&a.ID, &a.RawMessageID, &requestID, &reference, &result, &method,
		&extractedAmount, &paymentAmount, &amountDiff, &extractedName, &paymentName, &extractedAccount,
		&paymentAccount, &similarity, &timeDiff, &a.Reason, &trigger, &a.EmailSubject,
		&a.EmailFrom, &emailDate, &a.ProcessingTimeMs, &diag, &createdAt)
	if err != nil {
		return nil, err
	}

	a.Result = models.MatchResult(result)
	a.Trigger = models.Trigger(trigger)
	a.PaymentRequestID = stringPtr(requestID)
	a.TransactionReference = stringPtr(reference)
	a.ExtractedName = stringPtr(extractedName)
	a.PaymentName = stringPtr(paymentName)
	a.ExtractedAccount = stringPtr(extractedAccount)
	a.PaymentAccount = stringPtr(paymentAccount)
	a.NameSimilarityPercent = floatPtr(similarity)
	a.TimeDiffMinutes = floatPtr(timeDiff)
	if method.Valid {
		m := models.ExtractionMethod(method.String)
		a.ExtractionMethod = &m
	}

	for _, f := range []struct {
		dst **decimal.Decimal
		src sql.NullString
	}{
		{&a.ExtractedAmount, extractedAmount},
		{&a.PaymentAmount, paymentAmount},
		{&a.AmountDiff, amountDiff},
	} {
		if *f.dst, err = decimalPtr(f.src); err != nil {
			return nil, err
		}
	}

	if emailDate.Valid {
		if a.EmailDate, err = parseTime(emailDate.String); err != nil {
			return nil, err
		}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if diag.Valid {
		var d models.Diagnostics
		if err := json.Unmarshal([]byte(diag.String), &d); err != nil {
			return nil, err
		}
		a.Diagnostics = &d
	}
	return &a, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
