package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// BalanceRepo reads merchant balances. Credits only happen inside settlement
// transactions.
type BalanceRepo struct {
	db *sql.DB
}

// NewBalanceRepo creates a balance repository
func NewBalanceRepo(db *sql.DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

// Get returns the balance of a merchant; a merchant never credited has zero
func (r *BalanceRepo) Get(ctx context.Context, merchantID string) (*models.MerchantBalance, error) {
	b, err := getBalance(ctx, r.db, merchantID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get balance", err).
			WithContext("merchant_id", merchantID)
	}
	return b, nil
}

func getBalance(ctx context.Context, q queryer, merchantID string) (*models.MerchantBalance, error) {
	var available, updatedAt string
	err := q.QueryRowContext(ctx, `SELECT available, updated_at FROM merchant_balances WHERE merchant_id = ?`,
		merchantID).Scan(&available, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.MerchantBalance{MerchantID: merchantID, Available: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}

	b := &models.MerchantBalance{MerchantID: merchantID}
	if b.Available, err = decimal.NewFromString(available); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return b, nil
}

// creditBalance adds amount to a merchant's available balance
func creditBalance(ctx context.Context, q queryer, merchantID string, amount decimal.Decimal, at time.Time) (*models.MerchantBalance, error) {
	current, err := getBalance(ctx, q, merchantID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "credit balance", err).
			WithContext("merchant_id", merchantID)
	}

	next := current.Available.Add(amount)
	_, err = q.ExecContext(ctx, `
	INSERT INTO merchant_balances(merchant_id, available, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(merchant_id) DO UPDATE SET available = excluded.available, updated_at = excluded.updated_at`,
		merchantID, next.String(), formatTime(at))
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "credit balance", err).
			WithContext("merchant_id", merchantID)
	}
	return &models.MerchantBalance{MerchantID: merchantID, Available: next, UpdatedAt: at.UTC()}, nil
}
