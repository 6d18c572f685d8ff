package db

import (
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    instrument TEXT PRIMARY KEY,
    direction TEXT NOT NULL,
    size REAL NOT NULL,
    avg_price REAL NOT NULL,
    realized_pnl REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    is_manual INTEGER DEFAULT 0,
    entry_time DATETIME,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    instrument TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity REAL NOT NULL,
    entry_price REAL NOT NULL,
    stop_price REAL,
    target_price REAL,
    fill_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    reason TEXT,
    execution_time DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reconciliation_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instrument TEXT NOT NULL,
    outcome TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    local_direction TEXT,
    local_size REAL,
    broker_direction TEXT,
    broker_size REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_snapshots (
    date TEXT PRIMARY KEY,
    daily_pnl REAL DEFAULT 0,
    daily_trades INTEGER DEFAULT 0,
    consecutive_losses INTEGER DEFAULT 0,
    lifetime_trades INTEGER DEFAULT 0,
    confidence_threshold REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prediction_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instrument TEXT NOT NULL,
    direction TEXT NOT NULL,
    confidence REAL NOT NULL,
    strength REAL NOT NULL,
    long_prob REAL NOT NULL,
    short_prob REAL NOT NULL,
    recommendation TEXT NOT NULL,
    stabilized INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);
CREATE INDEX IF NOT EXISTS idx_prediction_log_instrument ON prediction_log(instrument);
CREATE INDEX IF NOT EXISTS idx_recon_instrument ON reconciliation_events(instrument);
`

// ApplyMigrations creates the schema if it does not exist yet.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
