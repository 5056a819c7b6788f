package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"papertrader/config"
	"papertrader/internal/marketdata/cache"
	"papertrader/internal/model"
	"papertrader/internal/store/clickhouse"
	"papertrader/internal/store/postgres"
	"papertrader/internal/store/redis"
	"papertrader/internal/store/sqlite"
)

// ErrNotConfigured is returned when an inspection needs a store that the
// config leaves empty.
var ErrNotConfigured = errors.New("not configured")

// ErrRunNotFound is returned by ShowRun when no store knows the run.
var ErrRunNotFound = errors.New("run not found")

// showRunLimit caps trades printed per store.
const showRunLimit = 500

// DataStatus prints one row per cached symbol/interval with the stored bar
// range and what the freshness policy would do on the next fetch.
func DataStatus(ctx context.Context, cfg *config.Config, w io.Writer, now time.Time) error {
	if cfg.Data.CachePath == "" {
		return fmt.Errorf("data.cache_path: %w", ErrNotConfigured)
	}
	db, err := sqlite.Open(cfg.Data.CachePath)
	if err != nil {
		return fmt.Errorf("bar cache: %w", err)
	}
	defer db.Close()

	entries, err := sqlite.NewBarStore(db).Entries(ctx)
	if err != nil {
		return err
	}
	session, err := Session(cfg)
	if err != nil {
		return err
	}
	open := session.IsOpen(now)

	fmt.Fprintf(w, "BAR CACHE %s  (%s)\n", cfg.Data.CachePath, session.StatusString(now))
	if len(entries) == 0 {
		fmt.Fprintln(w, "  empty")
		return nil
	}
	for _, e := range entries {
		d := cache.Decide(cache.FreshnessInput{
			LastFetch:    e.LastFetch,
			Now:          now,
			MaxAge:       cfg.Data.CacheMaxAge,
			MarketOpen:   open,
			MarketMinAge: cfg.Data.MarketMinAge,
		})
		verdict := cache.DecisionCache
		if d.Refresh {
			verdict = cache.DecisionRefresh
		}
		fmt.Fprintf(w, "  %-12s %-4s %6d bars  %s .. %s  source=%-8s covers=%s  %s: %s\n",
			e.Symbol, e.Interval, e.Stored, fmtTS(e.First), fmtTS(e.Last),
			e.Source, fmtTS(e.CoveredFrom), verdict, d.Reason)
	}
	return nil
}

// ShowRun prints the snapshot and trades of runID from every configured
// journal: SQLite, Postgres and the Redis stream. Stores that cannot be
// reached are reported and skipped.
func ShowRun(ctx context.Context, cfg *config.Config, runID string, w io.Writer) error {
	if cfg.Sinks.SQLitePath == "" && cfg.Sinks.PostgresDSN == "" && cfg.Sinks.RedisAddr == "" {
		return fmt.Errorf("sinks: %w", ErrNotConfigured)
	}
	found := false
	var errs []error

	if cfg.Sinks.SQLitePath != "" {
		ok, err := showSQLiteRun(ctx, cfg.Sinks.SQLitePath, runID, w)
		found = found || ok
		errs = append(errs, err)
	}
	if cfg.Sinks.PostgresDSN != "" {
		ok, err := showPostgresRun(ctx, cfg.Sinks.PostgresDSN, runID, w)
		found = found || ok
		errs = append(errs, err)
	}
	if cfg.Sinks.RedisAddr != "" {
		ok, err := showRedisRun(ctx, cfg, runID, w)
		found = found || ok
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func showSQLiteRun(ctx context.Context, path, runID string, w io.Writer) (bool, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return false, fmt.Errorf("sqlite journal: %w", err)
	}
	defer db.Close()
	j := sqlite.NewJournal(db, "", "")

	snap, err := j.Snapshot(ctx, runID)
	hasSnap := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	recs, err := j.Trades(ctx, runID, showRunLimit)
	if err != nil {
		return false, fmt.Errorf("sqlite trades: %w", err)
	}
	if !hasSnap && len(recs) == 0 {
		return false, nil
	}

	fmt.Fprintf(w, "== sqlite %s\n", path)
	if hasSnap {
		writeSnapshot(w, snap)
	}
	for _, r := range recs {
		fmt.Fprintf(w, "  %s  %-4s %4d @ %-10s pnl=%-10s %s\n", r.ExecutedAt, r.Side, r.Qty, r.Price, dash(r.PnL), r.Reason)
	}
	return true, nil
}

func showPostgresRun(ctx context.Context, dsn, runID string, w io.Writer) (bool, error) {
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return false, err
	}
	store := postgres.NewTradeStore(pool, "", "")
	defer store.Close()

	snap, hasSnap, err := store.Snapshot(ctx, runID)
	if err != nil {
		return false, err
	}
	trades, err := store.Trades(ctx, runID)
	if err != nil {
		return false, err
	}
	if !hasSnap && len(trades) == 0 {
		return false, nil
	}
	fmt.Fprintln(w, "== postgres")
	if hasSnap {
		writeSnapshot(w, snap)
	}
	writeTrades(w, trades)
	return true, nil
}

func showRedisRun(ctx context.Context, cfg *config.Config, runID string, w io.Writer) (bool, error) {
	client, err := redis.Dial(redis.Config{
		Addr:     cfg.Sinks.RedisAddr,
		Password: cfg.Sinks.RedisPassword,
		DB:       cfg.Sinks.RedisDB,
	})
	if err != nil {
		return false, fmt.Errorf("redis: %w", err)
	}
	return showStreamRun(ctx, redis.NewTradeStream(client, runID), runID, cfg.Backtest.Symbol, w)
}

// showStreamRun prints the cached snapshot and the newest trades on the
// run symbol's stream. The stream is shared by runs on the same symbol.
func showStreamRun(ctx context.Context, stream *redis.TradeStream, runID, symbol string, w io.Writer) (bool, error) {
	defer stream.Close()
	snap, ok, err := stream.Snapshot(ctx, runID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if snap.Symbol != "" {
		symbol = snap.Symbol
	}
	trades, err := stream.LatestTrades(ctx, symbol, 20)
	if err != nil {
		return true, err
	}
	fmt.Fprintf(w, "== redis (latest %s trades, newest first)\n", symbol)
	writeSnapshot(w, snap)
	writeTrades(w, trades)
	return true, nil
}

func writeSnapshot(w io.Writer, s model.RunSnapshot) {
	fmt.Fprintf(w, "  run=%s strategy=%s symbol=%s balance=%s realized=%s trades=%d skipped=%d open=%d at %s\n",
		s.RunID, s.Strategy, s.Symbol, s.Balance.StringFixed(2), s.RealizedPnL.StringFixed(2),
		s.TradeCount, s.SkippedSteps, len(s.OpenPositions), fmtTS(s.TS))
}

func writeTrades(w io.Writer, trades []model.Trade) {
	for _, t := range trades {
		pnl := ""
		if t.PnL != nil {
			pnl = t.PnL.String()
		}
		fmt.Fprintf(w, "  %s  %-4s %4d @ %-10s pnl=%-10s %s\n",
			t.TS.UTC().Format(time.RFC3339), t.Side, t.Qty, t.Price, dash(pnl), t.Reason)
	}
}

// ArchiveBars copies bars into the ClickHouse archive, creating the table
// on first use.
func ArchiveBars(ctx context.Context, cfg *config.Config, interval string, bars []model.Bar) error {
	if cfg.Data.ClickHouseDSN == "" {
		return fmt.Errorf("data.clickhouse_dsn: %w", ErrNotConfigured)
	}
	conn, err := clickhouse.NewConn(ctx, cfg.Data.ClickHouseDSN)
	if err != nil {
		return err
	}
	archive, err := clickhouse.NewBarArchive(conn, cfg.Data.ClickHouseTable)
	if err != nil {
		conn.Close()
		return err
	}
	defer archive.Close()
	if err := archive.CreateTable(ctx); err != nil {
		return err
	}
	return archive.Save(ctx, interval, bars)
}

func fmtTS(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
