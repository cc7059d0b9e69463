package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database holding the registry
// ledger. It implements registry.Ledger.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Batches are committed serially by the registry; a single connection
	// keeps SQLite from returning SQLITE_BUSY between readers and the writer.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// uint64 amounts are stored in INTEGER columns as their int64 bit pattern;
// see u2i and i2u.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS params (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    base_fee INTEGER NOT NULL,
    bytes_fee_multiplier INTEGER NOT NULL,
    grant_fee INTEGER NOT NULL,
    balance INTEGER NOT NULL,
    total_access INTEGER NOT NULL,
    sequence INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    idx INTEGER PRIMARY KEY,
    ciphertext BLOB NOT NULL,
    encrypted_name BLOB NOT NULL,
    encrypted_folder BLOB NOT NULL,
    encrypted_kind BLOB NOT NULL,
    iv BLOB NOT NULL,
    digest BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    sequence INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS access_keys (
    ordinal INTEGER PRIMARY KEY AUTOINCREMENT,
    grantee TEXT NOT NULL,
    grantor TEXT NOT NULL,
    file_idx INTEGER NOT NULL,
    wrapped_key BLOB NOT NULL,
    sequence INTEGER NOT NULL,
    FOREIGN KEY (file_idx) REFERENCES files(idx)
);

CREATE TABLE IF NOT EXISTS payouts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recipient TEXT NOT NULL,
    amount INTEGER NOT NULL,
    sequence INTEGER NOT NULL,
    paid_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    idx INTEGER PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_keys_grantee ON access_keys(grantee);
CREATE INDEX IF NOT EXISTS idx_access_keys_file ON access_keys(file_idx);
CREATE INDEX IF NOT EXISTS idx_payouts_recipient ON payouts(recipient);
CREATE INDEX IF NOT EXISTS idx_events_sequence ON events(sequence);`
	_, err := d.db.Exec(schema)
	return err
}

// u2i maps a uint64 onto the int64 SQLite stores, preserving all 64 bits.
func u2i(v uint64) int64 { return int64(v) }

// i2u reverses u2i.
func i2u(v int64) uint64 { return uint64(v) }

// nonNil keeps NOT NULL blob columns satisfied for empty payload fields.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// withTx runs fn inside a transaction, rolling back on any error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
