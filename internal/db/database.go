package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Open connects to the records database. driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case "postgres":
		conn, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		if err == nil {
			conn.SetMaxOpenConns(10)
			conn.SetConnMaxLifetime(30 * time.Minute)
		}
	case "sqlite":
		if err := EnsureDir(dsn); err != nil {
			return nil, err
		}
		conn, err = sqlx.ConnectContext(ctx, "sqlite", dsn)
		if err == nil {
			// single writer; also keeps ":memory:" databases on one connection
			conn.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return conn, nil
}

// Migrate creates the tables the repositories rely on.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	schema := sqliteSchema
	if conn.DriverName() == "postgres" {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database migration completed")
	return nil
}

// EnsureDir creates the parent directory of a sqlite file DSN.
func EnsureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o751); err != nil {
			return fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS problems (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		school TEXT NOT NULL DEFAULT '',
		description TEXT,
		status TEXT NOT NULL,
		completed_at DATETIME,
		attendant_id TEXT,
		feedback_rating INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_problems_status_created ON problems (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_problems_conversation ON problems (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ignored_contacts (
		conversation_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS problems (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		school TEXT NOT NULL DEFAULT '',
		description TEXT,
		status TEXT NOT NULL,
		completed_at TIMESTAMPTZ,
		attendant_id TEXT,
		feedback_rating INTEGER CHECK (feedback_rating BETWEEN 1 AND 5)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_problems_status_created ON problems (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_problems_conversation ON problems (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ignored_contacts (
		conversation_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
