package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"papertrader/internal/model"
)

// FetchMeta records when bars for a symbol/interval were last fetched and
// how far back the cached window reaches.
type FetchMeta struct {
	Symbol      string
	Interval    string
	Source      string
	LastFetch   time.Time
	BarCount    int
	CoveredFrom time.Time // zero when unknown
}

// CacheEntry is one symbol/interval in the cache with its stored range.
type CacheEntry struct {
	FetchMeta
	Stored      int
	First, Last time.Time
}

// BarStore caches bars and their fetch metadata.
type BarStore struct {
	db *DB
}

// NewBarStore returns a bar cache over db.
func NewBarStore(db *DB) *BarStore { return &BarStore{db: db} }

// SaveBars upserts bars in a single transaction.
func (s *BarStore) SaveBars(ctx context.Context, symbol, interval string, bars []model.Bar) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, interval, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar %s: %w", b.TS.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// LoadBars returns cached bars with ts >= since, ordered by timestamp.
func (s *BarStore) LoadBars(ctx context.Context, symbol, interval string, since time.Time) ([]model.Bar, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND interval = ? AND ts >= ?
		ORDER BY ts ASC
	`, symbol, interval, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Symbol: symbol}
		var tsUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Volume = vol.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestBar returns the most recent cached bar.
func (s *BarStore) LatestBar(ctx context.Context, symbol, interval string) (model.Bar, bool, error) {
	b := model.Bar{Symbol: symbol}
	var tsUnix int64
	var vol sql.NullFloat64
	err := s.db.db.QueryRowContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars WHERE symbol = ? AND interval = ?
		ORDER BY ts DESC LIMIT 1
	`, symbol, interval).Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &vol)
	if err == sql.ErrNoRows {
		return model.Bar{}, false, nil
	}
	if err != nil {
		return model.Bar{}, false, fmt.Errorf("sqlite latest bar: %w", err)
	}
	b.TS = time.Unix(tsUnix, 0).UTC()
	b.Volume = vol.Float64
	return b, true, nil
}

// FetchMeta returns the fetch metadata, ok=false if never fetched.
func (s *BarStore) FetchMeta(ctx context.Context, symbol, interval string) (FetchMeta, bool, error) {
	m := FetchMeta{Symbol: symbol, Interval: interval}
	var last, covered int64
	err := s.db.db.QueryRowContext(ctx,
		`SELECT source, last_fetch, bar_count, covered_from FROM fetch_meta WHERE symbol = ? AND interval = ?`,
		symbol, interval,
	).Scan(&m.Source, &last, &m.BarCount, &covered)
	if err == sql.ErrNoRows {
		return FetchMeta{}, false, nil
	}
	if err != nil {
		return FetchMeta{}, false, fmt.Errorf("sqlite fetch meta: %w", err)
	}
	m.LastFetch = time.Unix(last, 0).UTC()
	m.CoveredFrom = unixOrZero(covered)
	return m, true, nil
}

// Entries lists every fetched symbol/interval with the range of bars held.
func (s *BarStore) Entries(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT m.symbol, m.interval, m.source, m.last_fetch, m.bar_count, m.covered_from,
		       COUNT(b.ts), COALESCE(MIN(b.ts), 0), COALESCE(MAX(b.ts), 0)
		FROM fetch_meta m
		LEFT JOIN bars b ON b.symbol = m.symbol AND b.interval = m.interval
		GROUP BY m.symbol, m.interval
		ORDER BY m.symbol, m.interval
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache entries: %w", err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var last, covered, first, newest int64
		if err := rows.Scan(&e.Symbol, &e.Interval, &e.Source, &last, &e.BarCount, &covered,
			&e.Stored, &first, &newest); err != nil {
			return nil, fmt.Errorf("sqlite scan cache entry: %w", err)
		}
		e.LastFetch = time.Unix(last, 0).UTC()
		e.CoveredFrom = unixOrZero(covered)
		e.First, e.Last = unixOrZero(first), unixOrZero(newest)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func zeroOrUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// SetFetchMeta records a successful fetch.
func (s *BarStore) SetFetchMeta(ctx context.Context, m FetchMeta) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fetch_meta (symbol, interval, source, last_fetch, bar_count, covered_from)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Symbol, m.Interval, m.Source, m.LastFetch.Unix(), m.BarCount, zeroOrUnix(m.CoveredFrom))
	if err != nil {
		return fmt.Errorf("sqlite set fetch meta: %w", err)
	}
	return nil
}

// Provider serves cached bars as a read-only market data source.
type Provider struct {
	store *BarStore
	now   func() time.Time
}

// NewProvider returns a MarketDataProvider backed by the bar cache.
func NewProvider(store *BarStore) *Provider {
	return &Provider{store: store, now: time.Now}
}

// Fetch returns cached bars from the last lookbackDays.
func (p *Provider) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	since := p.now().AddDate(0, 0, -lookbackDays)
	bars, err := p.store.LoadBars(ctx, symbol, interval, since)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("sqlite: no cached %s %s bars since %s", symbol, interval, since.Format("2006-01-02"))
	}
	return bars, nil
}

// CurrentPrice returns the close of the latest cached bar of any interval
// stored for symbol.
func (p *Provider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var c float64
	err := p.store.db.db.QueryRowContext(ctx,
		`SELECT close FROM bars WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, symbol).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("sqlite: no cached bars for %s", symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite current price: %w", err)
	}
	return c, nil
}
