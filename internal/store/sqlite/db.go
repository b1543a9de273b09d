package sqlite

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nulzo/prism-router/internal/store"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// file databases get WAL and a busy timeout so the ingestor and readers
// do not trip over each other
const filePragmas = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// NewSQLiteStorage opens dsn, applies pending migrations and returns the repository.
func NewSQLiteStorage(dsn string, logger *zap.Logger) (store.Repository, error) {
	db, err := sqlx.Connect("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	// a single connection serializes writers and keeps ":memory:" alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	version, err := migrateUp(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %q: %w", dsn, err)
	}

	logger.Debug("Database ready", zap.String("dsn", dsn), zap.Uint("schema_version", version))

	return NewSqliteRepository(db), nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_journal_mode") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + filePragmas
}

func migrateUp(db *sqlx.DB) (uint, error) {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return 0, err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}
