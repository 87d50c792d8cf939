// Package db manages the sqlite database used by the optional sqlite
// history backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection with application-specific methods.
type DB struct {
	*sql.DB
	path string
}

// New creates a new database connection and initializes the schema.
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:   sqlDB,
		path: path,
	}

	if err := db.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := db.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// configure sets up database pragmas for optimal performance.
func (db *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (db *DB) createSchema() error {
	if err := db.createHistoryTable(); err != nil {
		return err
	}
	return db.createAlertsTable()
}

func (db *DB) createHistoryTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS history_records (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		credits_used REAL DEFAULT 0,
		credits_limit REAL DEFAULT 0,
		rate_used INTEGER DEFAULT 0,
		rate_limit INTEGER DEFAULT 0,
		daily_used INTEGER DEFAULT 0,
		daily_limit INTEGER,
		tier TEXT DEFAULT 'Free',
		health_status TEXT DEFAULT 'unknown',
		health_percentage INTEGER DEFAULT 0,
		raw_snapshot TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_history_key_hash ON history_records(api_key_hash);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

func (db *DB) createAlertsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS alert_records (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		message TEXT,
		threshold_value INTEGER DEFAULT 0,
		actual_value INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alert_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_key_hash ON alert_records(api_key_hash);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	// Checkpoint WAL before closing
	_, _ = db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return db.DB.Close()
}
