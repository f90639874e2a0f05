// Package db provides database connection and migration utilities for the upload record store.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported values for the DATABASE_DRIVER setting.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// sqliteParams serialises writers at BEGIN and waits on a locked file instead of failing.
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on"

//go:embed migrations
var migrationsFS embed.FS

// ErrUnsupportedDriver is returned for any driver other than sqlite3 or postgres.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Open creates and validates a connection pool for driver.
// For sqlite3, dsn is a file path; its parent directory is created if missing.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		conn, err = sql.Open("sqlite3", withParams(dsn, sqliteParams))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection keeps insert-and-evict transactions from contending on the file lock.
		conn.SetMaxOpenConns(1)
	case DriverPostgres:
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// Migrate runs all pending up migrations embedded in the binary.
// Like Open, it creates the parent directory of a sqlite3 file.
func Migrate(driver, dsn string) error {
	databaseURL, err := migrationURL(driver, dsn)
	if err != nil {
		return err
	}
	if driver == DriverSQLite {
		if err := ensureDir(dsn); err != nil {
			return err
		}
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func migrationURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3://" + dsn, nil
	case DriverPostgres:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
			}
		}
		return "", fmt.Errorf("postgres DATABASE_URL must be a postgres:// URL, got %q", dsn)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// ensureDir creates the directory holding a sqlite3 database file.
func ensureDir(dsn string) error {
	path, _, _ := strings.Cut(dsn, "?")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

func withParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
