// Package sqlite persists bars, fetch metadata, trades and run snapshots in a
// local SQLite database (mattn/go-sqlite3, WAL mode).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle shared by BarStore and Journal.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &DB{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			PRIMARY KEY (symbol, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS fetch_meta (
			symbol       TEXT    NOT NULL,
			interval     TEXT    NOT NULL,
			source       TEXT    NOT NULL,
			last_fetch   INTEGER NOT NULL,
			bar_count    INTEGER NOT NULL,
			covered_from INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, interval)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id    TEXT NOT NULL UNIQUE,
			run_id      TEXT NOT NULL,
			strategy    TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			qty         INTEGER NOT NULL,
			price       TEXT NOT NULL,
			pnl         TEXT,
			reason      TEXT,
			executed_at DATETIME NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

		CREATE TABLE IF NOT EXISTS run_snapshots (
			run_id     TEXT PRIMARY KEY,
			strategy   TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return err
	}
	// Databases created before covered_from existed.
	if _, err := db.Exec(`ALTER TABLE fetch_meta ADD COLUMN covered_from INTEGER NOT NULL DEFAULT 0`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		return err
	}
	return nil
}

// Ping checks the connection (health probe).
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Path returns the database path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
