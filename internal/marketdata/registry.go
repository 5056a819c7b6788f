// Package marketdata builds market data providers by name and provides the
// offline helpers shared by them (CSV parsing, resampling, replay).
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"papertrader/config"
	"papertrader/internal/marketdata/alpaca"
	"papertrader/internal/marketdata/angel"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/store/clickhouse"
	"papertrader/internal/store/sqlite"
)

// ErrUnknownSource is returned for unregistered source names.
var ErrUnknownSource = errors.New("unknown data source")

// Factory builds a provider from configuration.
type Factory func(ctx context.Context, cfg *config.Config) (model.MarketDataProvider, error)

// Source describes one registered data source.
type Source struct {
	Name         string
	Description  string
	RequiresAuth bool
	Factory      Factory
}

// Registry maps source names to factories. Build it once at startup.
type Registry struct {
	sources map[string]Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Duplicate names are rejected.
func (r *Registry) Register(s Source) error {
	if s.Name == "" || s.Factory == nil {
		return fmt.Errorf("source registry: entry needs name and factory")
	}
	if _, dup := r.sources[s.Name]; dup {
		return fmt.Errorf("source registry: %q already registered", s.Name)
	}
	r.sources[s.Name] = s
	return nil
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sources returns all sources sorted by name.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.sources))
	for _, n := range r.Names() {
		out = append(out, r.sources[n])
	}
	return out
}

// Build instantiates the named source.
func (r *Registry) Build(ctx context.Context, name string, cfg *config.Config) (model.MarketDataProvider, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownSource, name, r.Names())
	}
	return s.Factory(ctx, cfg)
}

// Open builds cfg.Data.Source followed by cfg.Data.Fallback as a Fallback
// chain. Sources that fail to build are skipped with a warning unless none
// remain. The returned close func releases every built provider.
func (r *Registry) Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Fallback, func() error, error) {
	names := append([]string{cfg.Data.Source}, cfg.Data.Fallback...)
	var (
		chain   []Named
		closers []model.Closer
		errs    []error
	)
	seen := make(map[string]bool)
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		p, err := r.Build(ctx, n, cfg)
		if err != nil {
			log.Printf("[data] source %s unavailable: %v", n, err)
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		chain = append(chain, Named{Name: n, Provider: p})
		if c, ok := p.(model.Closer); ok {
			closers = append(closers, c)
		}
	}
	closeAll := func() error {
		var cerrs []error
		for _, c := range closers {
			cerrs = append(cerrs, c.Close())
		}
		return errors.Join(cerrs...)
	}
	if len(chain) == 0 {
		return nil, closeAll, fmt.Errorf("no usable data source: %w", errors.Join(errs...))
	}
	return NewFallback(m, chain...), closeAll, nil
}

// sqliteSource serves the bar cache and owns its database handle.
type sqliteSource struct {
	*sqlite.Provider
	db *sqlite.DB
}

func (s sqliteSource) Close() error { return s.db.Close() }

// BuildDefaultRegistry registers the built-in sources.
func BuildDefaultRegistry() *Registry {
	r := NewRegistry()
	must(r.Register(Source{
		Name:        "csv",
		Description: "Local CSV file of OHLCV bars (data.csv_path)",
		Factory: func(_ context.Context, cfg *config.Config) (model.MarketDataProvider, error) {
			if cfg.Data.CSVPath == "" {
				return nil, config.Invalid("data.csv_path", "required for csv source")
			}
			loc, err := cfg.Location()
			if err != nil {
				return nil, err
			}
			return NewCSVProvider(cfg.Data.CSVPath, loc), nil
		},
	}))
	must(r.Register(Source{
		Name:        "sqlite",
		Description: "Bars previously cached in SQLite (data.cache_path)",
		Factory: func(_ context.Context, cfg *config.Config) (model.MarketDataProvider, error) {
			db, err := sqlite.Open(cfg.Data.CachePath)
			if err != nil {
				return nil, err
			}
			return sqliteSource{Provider: sqlite.NewProvider(sqlite.NewBarStore(db)), db: db}, nil
		},
	}))
	must(r.Register(Source{
		Name:         "alpaca",
		Description:  "Alpaca market data API (US equities)",
		RequiresAuth: true,
		Factory: func(_ context.Context, cfg *config.Config) (model.MarketDataProvider, error) {
			if cfg.Alpaca.KeyID == "" || cfg.Alpaca.Secret == "" {
				return nil, config.Invalid("alpaca.key_id", "APCA_API_KEY_ID and APCA_API_SECRET_KEY required")
			}
			return alpaca.NewProvider(alpaca.Config{
				KeyID:   cfg.Alpaca.KeyID,
				Secret:  cfg.Alpaca.Secret,
				BaseURL: cfg.Alpaca.BaseURL,
				Feed:    cfg.Alpaca.Feed,
			}), nil
		},
	}))
	must(r.Register(Source{
		Name:         "angel",
		Description:  "Angel One SmartAPI historical candles (NSE/BSE)",
		RequiresAuth: true,
		Factory: func(_ context.Context, cfg *config.Config) (model.MarketDataProvider, error) {
			a := cfg.Angel
			if a.APIKey == "" || a.ClientCode == "" || a.Password == "" || a.TOTPSecret == "" {
				return nil, config.Invalid("angel", "api key, client code, password and totp secret required")
			}
			client := angel.NewClient(angel.Config{
				APIKey:     a.APIKey,
				ClientCode: a.ClientCode,
				Password:   a.Password,
				TOTPSecret: a.TOTPSecret,
				RootURL:    a.BaseURL,
			})
			return angel.NewProvider(client, a.Exchange), nil
		},
	}))
	must(r.Register(Source{
		Name:        "clickhouse",
		Description: "OHLCV archive table in ClickHouse (data.clickhouse_dsn)",
		Factory: func(ctx context.Context, cfg *config.Config) (model.MarketDataProvider, error) {
			if cfg.Data.ClickHouseDSN == "" {
				return nil, config.Invalid("data.clickhouse_dsn", "required for clickhouse source")
			}
			conn, err := clickhouse.NewConn(ctx, cfg.Data.ClickHouseDSN)
			if err != nil {
				return nil, err
			}
			archive, err := clickhouse.NewBarArchive(conn, cfg.Data.ClickHouseTable)
			if err != nil {
				conn.Close()
				return nil, err
			}
			return archive, nil
		},
	}))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
