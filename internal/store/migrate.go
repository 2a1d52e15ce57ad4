package store

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"golang-payment-matcher/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies all up migrations to db and returns the resulting schema
// version. The database handle stays open.
func Migrate(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, errors.StorageError(errors.CodeMigrationFailed, "load migrations", err)
	}
	defer src.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, errors.StorageError(errors.CodeMigrationFailed, "prepare migrations", err)
	}

	// m.Close would also close db, so only the source is released
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, errors.StorageError(errors.CodeMigrationFailed, "prepare migrations", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, errors.StorageError(errors.CodeMigrationFailed, "apply migrations", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, errors.StorageError(errors.CodeMigrationFailed, "read schema version", err)
	}
	if dirty {
		return version, errors.StorageError(errors.CodeMigrationFailed, "read schema version", nil).
			WithContext("version", version)
	}
	return version, nil
}
