package model

import "context"

// ── Ports ──
// These interfaces decouple the simulation core from concrete data sources
// and trade stores. Adapters under internal/marketdata and internal/store
// satisfy them.

// MarketDataProvider yields ordered bars for a symbol.
type MarketDataProvider interface {
	// Fetch returns bars for symbol at interval (e.g. "5m", "1d") covering the
	// last lookbackDays, sorted by timestamp ascending.
	Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]Bar, error)

	// CurrentPrice returns the latest traded price (live mode).
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// TradeSink records executed trades in the order they are produced.
type TradeSink interface {
	Record(ctx context.Context, trade Trade) error
}

// SnapshotSink is implemented by sinks that also accept the end-of-run snapshot.
type SnapshotSink interface {
	RecordSnapshot(ctx context.Context, snap RunSnapshot) error
}

// Closer is implemented by sinks and providers that hold resources.
type Closer interface {
	Close() error
}
