package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    server TEXT NOT NULL,
    credentials_encrypted TEXT NOT NULL,
    is_default BOOLEAN DEFAULT 0,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(owner_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    instrument TEXT NOT NULL,
    volume REAL NOT NULL,
    price REAL DEFAULT 0,
    stop REAL DEFAULT 0,
    target REAL DEFAULT 0,
    ticket INTEGER DEFAULT 0,
    owner_id TEXT NOT NULL,
    account_ref TEXT DEFAULT '',
    comment TEXT DEFAULT '',
    status TEXT NOT NULL,
    error_kind TEXT DEFAULT '',
    submitted_at DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS execution_results (
    id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL UNIQUE,
    account_id TEXT DEFAULT '',
    success BOOLEAN NOT NULL,
    ticket INTEGER DEFAULT 0,
    error_kind TEXT DEFAULT '',
    latency_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(signal_id) REFERENCES signals(id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);
CREATE INDEX IF NOT EXISTS idx_signals_owner ON signals(owner_id);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);
CREATE INDEX IF NOT EXISTS idx_results_account ON execution_results(account_id);
`

// ApplyMigrations creates the schema when missing. Statements are idempotent.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
