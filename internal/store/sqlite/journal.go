package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"papertrader/internal/model"
)

// Journal persists trades of one run for analysis and audit. It implements
// model.TradeSink and model.SnapshotSink.
type Journal struct {
	mu       sync.Mutex
	db       *DB
	runID    string
	strategy string
}

// NewJournal returns a trade journal for runID.
func NewJournal(db *DB, runID, strategy string) *Journal {
	log.Printf("[journal] recording run %s (%s) to %s", runID, strategy, db.Path())
	return &Journal{db: db, runID: runID, strategy: strategy}
}

// Record persists a trade.
func (j *Journal) Record(ctx context.Context, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var pnl sql.NullString
	if t.PnL != nil {
		pnl = sql.NullString{String: t.PnL.String(), Valid: true}
	}
	_, err := j.db.db.ExecContext(ctx,
		`INSERT INTO trades (trade_id, run_id, strategy, symbol, side, qty, price, pnl, reason, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		j.runID,
		j.strategy,
		t.Symbol,
		string(t.Side),
		t.Qty,
		t.Price.String(),
		pnl,
		t.Reason,
		t.TS.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", t.ID, err)
	}
	return nil
}

// RecordSnapshot stores the end-of-run snapshot as JSON.
func (j *Journal) RecordSnapshot(ctx context.Context, s model.RunSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = j.db.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_snapshots (run_id, strategy, symbol, data) VALUES (?, ?, ?, ?)`,
		s.RunID, s.Strategy, s.Symbol, string(data))
	if err != nil {
		return fmt.Errorf("journal snapshot: %w", err)
	}
	return nil
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID         int64  `json:"id"`
	TradeID    string `json:"trade_id"`
	RunID      string `json:"run_id"`
	Strategy   string `json:"strategy"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Qty        int64  `json:"qty"`
	Price      string `json:"price"`
	PnL        string `json:"pnl"`
	Reason     string `json:"reason"`
	ExecutedAt string `json:"executed_at"`
}

// Trades returns the trades of runID in execution order. An empty runID
// returns the last limit trades of all runs, newest first.
func (j *Journal) Trades(ctx context.Context, runID string, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT id, trade_id, run_id, strategy, symbol, side, qty, price, COALESCE(pnl, ''), COALESCE(reason, ''), executed_at
		 FROM trades WHERE run_id = ? ORDER BY id ASC LIMIT ?`
	args := []any{runID, limit}
	if runID == "" {
		query = `SELECT id, trade_id, run_id, strategy, symbol, side, qty, price, COALESCE(pnl, ''), COALESCE(reason, ''), executed_at
		 FROM trades ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := j.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.TradeID, &t.RunID, &t.Strategy, &t.Symbol, &t.Side,
			&t.Qty, &t.Price, &t.PnL, &t.Reason, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Snapshot loads the stored snapshot of runID.
func (j *Journal) Snapshot(ctx context.Context, runID string) (model.RunSnapshot, error) {
	var data string
	err := j.db.db.QueryRowContext(ctx, `SELECT data FROM run_snapshots WHERE run_id = ?`, runID).Scan(&data)
	if err != nil {
		return model.RunSnapshot{}, fmt.Errorf("journal snapshot %s: %w", runID, err)
	}
	var s model.RunSnapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return model.RunSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}
