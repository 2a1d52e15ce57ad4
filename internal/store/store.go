// Package store persists raw messages, payment requests, match attempts,
// merchant balances and outbox events in SQLite.
//
// The schema is versioned with golang-migrate and embedded in the binary, so
// opening a database always brings it to the latest version. SQLite allows one
// writer at a time; the pool is limited to a single connection and every
// write that must be atomic runs inside WithTx.
//
// Two guarantees are enforced by the database rather than by callers:
//   - a (channel, unique_id) pair is stored once, so a redelivered
//     notification is detected by InsertIfAbsent
//   - status changes are compare-and-swap updates, so two messages racing for
//     the same request cannot both settle it
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Config holds database settings
type Config struct {
	// Path is the SQLite database file; ":memory:" keeps everything in memory
	Path string `json:"path" mapstructure:"path"`

	// BusyTimeout is how long a statement waits for a lock held by another process
	BusyTimeout time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
}

// DefaultConfig returns the default database configuration
func DefaultConfig() *Config {
	return &Config{
		Path:        "paymatch.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "database.path", c.Path, nil)
	}
	if c.BusyTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.busy_timeout", c.BusyTimeout, nil)
	}
	return nil
}

// DSN builds the modernc.org/sqlite connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		c.Path, c.BusyTimeout.Milliseconds())
}

// Store bundles the repositories over one database handle
type Store struct {
	db     *sql.DB
	logger logger.Logger

	Messages *MessageRepo
	Requests *RequestRepo
	Attempts *AttemptRepo
	Balances *BalanceRepo
	Outbox   *OutboxRepo
}

// Open opens the database, applies pending migrations and returns a Store
func Open(ctx context.Context, config *Config, log logger.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.WithComponent("store")
	}

	db, err := sql.Open("sqlite", config.DSN())
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "open database", err).
			WithContext("path", config.Path)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeQueryFailed, "open database", err).
			WithContext("path", config.Path)
	}

	var version uint
	err = logger.TimedOperation("migrate", log, func() error {
		var err error
		version, err = Migrate(db)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"path":           config.Path,
		"schema_version": version,
	}).Debug("database ready")

	return New(db, log), nil
}

// New wraps an already migrated database
func New(db *sql.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.WithComponent("store")
	}
	return &Store{
		db:       db,
		logger:   log,
		Messages: NewMessageRepo(db),
		Requests: NewRequestRepo(db),
		Attempts: NewAttemptRepo(db),
		Balances: NewBalanceRepo(db),
		Outbox:   NewOutboxRepo(db),
	}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn in a transaction, rolling back when fn fails
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "commit transaction", err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}
