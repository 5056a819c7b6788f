package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// TradeStore records the trades and snapshot of one run.
type TradeStore struct {
	pool     *Pool
	runID    string
	strategy string
}

// NewTradeStore returns a sink writing to pool under runID.
func NewTradeStore(pool *Pool, runID, strategy string) *TradeStore {
	return &TradeStore{pool: pool, runID: runID, strategy: strategy}
}

var (
	_ model.TradeSink    = (*TradeStore)(nil)
	_ model.SnapshotSink = (*TradeStore)(nil)
)

// Record inserts a trade. Returns ErrDuplicateTrade if its id exists.
func (s *TradeStore) Record(ctx context.Context, t model.Trade) error {
	var pnl *string
	if t.PnL != nil {
		v := t.PnL.String()
		pnl = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (trade_id, run_id, strategy, symbol, side, qty, price, pnl, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
	`,
		t.ID, s.runID, s.strategy, t.Symbol, string(t.Side), t.Qty,
		t.Price.String(), pnl, t.Reason, t.TS.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateTrade, t.ID)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecordSnapshot upserts the run snapshot.
func (s *TradeStore) RecordSnapshot(ctx context.Context, snap model.RunSnapshot) error {
	positions, err := json.Marshal(snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_snapshots (run_id, strategy, symbol, balance, realized_pnl, trade_count, skipped, positions, taken_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			realized_pnl = EXCLUDED.realized_pnl,
			trade_count = EXCLUDED.trade_count,
			skipped = EXCLUDED.skipped,
			positions = EXCLUDED.positions,
			taken_at = EXCLUDED.taken_at
	`,
		snap.RunID, snap.Strategy, snap.Symbol,
		snap.Balance.String(), snap.RealizedPnL.String(),
		snap.TradeCount, snap.SkippedSteps, positions, snap.TS.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Trades returns the trades of runID in execution order.
func (s *TradeStore) Trades(ctx context.Context, runID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, symbol, side, qty, price::text, pnl::text, reason, executed_at
		FROM trades
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(rows pgx.Rows) (model.Trade, error) {
	var (
		t     model.Trade
		side  string
		price string
		pnl   *string
		ts    time.Time
	)
	if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Qty, &price, &pnl, &t.Reason, &ts); err != nil {
		return model.Trade{}, fmt.Errorf("scan trade: %w", err)
	}
	t.Side = model.Side(side)
	t.TS = ts.UTC()
	var err error
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return model.Trade{}, fmt.Errorf("trade %s price: %w", t.ID, err)
	}
	if pnl != nil {
		d, err := decimal.NewFromString(*pnl)
		if err != nil {
			return model.Trade{}, fmt.Errorf("trade %s pnl: %w", t.ID, err)
		}
		t.PnL = &d
	}
	return t, nil
}

// Snapshot loads the snapshot of runID; ok is false if none was stored.
func (s *TradeStore) Snapshot(ctx context.Context, runID string) (model.RunSnapshot, bool, error) {
	var (
		snap      model.RunSnapshot
		balance   string
		realized  string
		positions []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, strategy, symbol, balance::text, realized_pnl::text, trade_count, skipped, positions, taken_at
		FROM run_snapshots WHERE run_id = $1
	`, runID).Scan(&snap.RunID, &snap.Strategy, &snap.Symbol, &balance, &realized,
		&snap.TradeCount, &snap.SkippedSteps, &positions, &snap.TS)
	if isNotFoundError(err) {
		return model.RunSnapshot{}, false, nil
	}
	if err != nil {
		return model.RunSnapshot{}, false, fmt.Errorf("query snapshot: %w", err)
	}
	if snap.Balance, err = decimal.NewFromString(balance); err != nil {
		return model.RunSnapshot{}, false, err
	}
	if snap.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return model.RunSnapshot{}, false, err
	}
	if err := json.Unmarshal(positions, &snap.OpenPositions); err != nil {
		return model.RunSnapshot{}, false, fmt.Errorf("unmarshal positions: %w", err)
	}
	snap.TS = snap.TS.UTC()
	return snap, true, nil
}

// Ping is a health probe.
func (s *TradeStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the pool.
func (s *TradeStore) Close() error {
	s.pool.Close()
	return nil
}
