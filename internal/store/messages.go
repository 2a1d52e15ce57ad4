package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// MessageRepo stores raw messages and their matching state
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a message repository
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, unique_id, channel, source, merchant_id, sender_address, sender_display_name,
	subject, text_body, html_body, received_at, amount_hint, matched, matched_request_id, matched_at,
	last_match_reason, match_attempts_count, extraction_method, extracted_info, created_at`

// InsertIfAbsent stores msg unless a message with the same channel and unique
// id already exists. It reports whether the row was inserted; on a duplicate
// it returns the ID of the stored copy.
func (r *MessageRepo) InsertIfAbsent(ctx context.Context, msg *models.RawMessage, now time.Time) (bool, string, error) {
	var hint sql.NullString
	if msg.AmountHint != nil {
		hint = sql.NullString{String: msg.AmountHint.String(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
	INSERT INTO raw_messages(id, unique_id, channel, source, merchant_id, sender_address, sender_display_name,
		subject, text_body, html_body, received_at, amount_hint, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(channel, unique_id) DO NOTHING`,
		msg.ID, msg.UniqueID, msg.Channel, string(msg.Source), msg.MerchantID, msg.SenderAddress,
		msg.SenderDisplayName, msg.Subject, msg.TextBody, msg.HTMLBody, formatTime(msg.ReceivedAt),
		hint, formatTime(now))
	if err != nil {
		return false, "", errors.StorageError(errors.CodeQueryFailed, "insert message", err).
			WithContext("unique_id", msg.UniqueID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, "", errors.StorageError(errors.CodeQueryFailed, "insert message", err)
	}
	if n == 1 {
		return true, msg.ID, nil
	}

	var existing string
	err = r.db.QueryRowContext(ctx, `SELECT id FROM raw_messages WHERE channel = ? AND unique_id = ?`,
		msg.Channel, msg.UniqueID).Scan(&existing)
	if err != nil {
		return false, "", errors.StorageError(errors.CodeQueryFailed, "lookup duplicate message", err)
	}
	return false, existing, nil
}

// Get returns a stored message by ID
func (r *MessageRepo) Get(ctx context.Context, id string) (*models.StoredMessage, error) {
	return getMessage(ctx, r.db, id)
}

func getMessage(ctx context.Context, q queryer, id string) (*models.StoredMessage, error) {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM raw_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeNotFound, "get message", err).
			WithContext("message_id", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get message", err).
			WithContext("message_id", id)
	}
	return m, nil
}

// UnmatchedSince lists unmatched messages received at or after since, oldest
// first. An empty merchantID means every merchant.
func (r *MessageRepo) UnmatchedSince(ctx context.Context, merchantID string, since time.Time) ([]*models.StoredMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM raw_messages WHERE matched = 0 AND received_at >= ?`
	args := []any{formatTime(since)}
	if merchantID != "" {
		// messages without a merchant scope may belong to anyone
		query += ` AND (merchant_id = ? OR merchant_id = '')`
		args = append(args, merchantID)
	}
	query += ` ORDER BY received_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list unmatched messages", err)
	}
	defer rows.Close()

	var out []*models.StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list unmatched messages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCounts summarises stored messages
type MessageCounts struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Counts returns message totals
func (r *MessageRepo) Counts(ctx context.Context) (MessageCounts, error) {
	var c MessageCounts
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(matched), 0) FROM raw_messages`).Scan(&c.Total, &c.Matched)
	if err != nil {
		return c, errors.StorageError(errors.CodeQueryFailed, "count messages", err)
	}
	c.Unmatched = c.Total - c.Matched
	return c, nil
}

// RecordUnmatched updates the state counters after an unmatched pass and
// writes the attempt in the same transaction
func (r *MessageRepo) RecordUnmatched(ctx context.Context, attempt *models.MatchAttempt, info *models.ExtractedPaymentInfo) error {
	return WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return err
		}
		return recordPass(ctx, tx, attempt.RawMessageID, attempt.Reason, info)
	})
}

// recordPass bumps the attempt counter and stores the latest extraction
func recordPass(ctx context.Context, q queryer, messageID, reason string, info *models.ExtractedPaymentInfo) error {
	var method sql.NullString
	var extracted sql.NullString
	if info != nil {
		method = sql.NullString{String: string(info.Method), Valid: info.Method != ""}
		data, err := json.Marshal(info)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode extraction", err)
		}
		extracted = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
	UPDATE raw_messages SET
		match_attempts_count = match_attempts_count + 1,
		last_match_reason = ?,
		extraction_method = COALESCE(?, extraction_method),
		extracted_info = COALESCE(?, extracted_info)
	WHERE id = ?`, reason, method, extracted, messageID)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "update message state", err).
			WithContext("message_id", messageID)
	}
	return nil
}

// claimMessage marks an unmatched message as matched. It reports false when
// another pass got there first.
func claimMessage(ctx context.Context, q queryer, messageID, requestID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
	UPDATE raw_messages SET matched = 1, matched_request_id = ?, matched_at = ?
	WHERE id = ? AND matched = 0`, requestID, formatTime(at), messageID)
	if err != nil {
		return false, errors.StorageError(errors.CodeQueryFailed, "claim message", err).
			WithContext("message_id", messageID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.StorageError(errors.CodeQueryFailed, "claim message", err)
	}
	return n == 1, nil
}

func scanMessage(s scanner) (*models.StoredMessage, error) {
	var (
		m                       models.StoredMessage
		source                  string
		receivedAt, createdAt   string
		hint, matchedRequestID  sql.NullString
		matchedAt, method, info sql.NullString
		matched                 int
	)
	err := s.Scan(&m.ID, &m.UniqueID, &m.Channel, &source, &m.MerchantID, &m.SenderAddress,
		&m.SenderDisplayName, &m.Subject, &m.TextBody, &m.HTMLBody, &receivedAt, &hint, &matched,
		&matchedRequestID, &matchedAt, &m.State.LastMatchReason, &m.State.MatchAttemptsCount,
		&method, &info, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Source = models.Source(source)
	if m.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if hint.Valid {
		d, err := decimal.NewFromString(hint.String)
		if err != nil {
			return nil, err
		}
		m.AmountHint = &d
	}

	m.State.Matched = matched == 1
	m.State.MatchedRequestID = matchedRequestID.String
	if m.State.MatchedAt, err = parseTimePtr(matchedAt); err != nil {
		return nil, err
	}
	if method.Valid {
		em := models.ExtractionMethod(method.String)
		m.State.ExtractionMethod = &em
	}
	if info.Valid {
		var ei models.ExtractedPaymentInfo
		if err := json.Unmarshal([]byte(info.String), &ei); err != nil {
			return nil, err
		}
		m.State.ExtractedInfo = &ei
	}
	return &m, nil
}
