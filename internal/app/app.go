// Package app wires configuration into the runtime components shared by the
// backtest and paper binaries: the market data chain, the trade sinks, the
// notifier and the market session.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/config"
	"papertrader/internal/backtest"
	"papertrader/internal/marketdata"
	"papertrader/internal/marketdata/cache"
	"papertrader/internal/markethours"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/notification"
	"papertrader/internal/risk"
	"papertrader/internal/sink"
	"papertrader/internal/store/postgres"
	"papertrader/internal/store/redis"
	"papertrader/internal/store/sqlite"
)

// BacktestConfig converts the account and risk sections.
func BacktestConfig(cfg *config.Config) (backtest.Config, error) {
	mode, err := risk.ParsePriceMode(cfg.Risk.PriceMode)
	if err != nil {
		return backtest.Config{}, err
	}
	bc := backtest.Config{
		InitialBalance:    decimal.NewFromFloat(cfg.Backtest.InitialBalance),
		QuantityPerTrade:  cfg.Backtest.Quantity,
		StopLossPercent:   cfg.Risk.StopLossPct,
		TakeProfitPercent: cfg.Risk.TakeProfitPct,
		PriceMode:         mode,
	}
	return bc, bc.Validate()
}

// Session builds the exchange session from the market section.
func Session(cfg *config.Config) (markethours.Session, error) {
	loc, err := cfg.Location()
	if err != nil {
		return markethours.Session{}, err
	}
	holidays := cfg.Market.Holidays
	if len(holidays) == 0 && cfg.Market.Timezone == "Asia/Kolkata" {
		holidays = markethours.NSEHolidays()
	}
	return markethours.NewSession(loc, cfg.Market.Open, cfg.Market.Close, holidays)
}

// DataOptions tunes OpenMarketData.
type DataOptions struct {
	// Refresh forces an upstream fetch even when the cache is fresh.
	Refresh bool
	// NoCache skips the SQLite bar cache.
	NoCache bool
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// OpenMarketData builds the configured source chain and, unless the primary
// source is already the cache, puts the SQLite bar cache in front of it.
// The returned func closes everything that was opened.
func OpenMarketData(ctx context.Context, cfg *config.Config, opts DataOptions) (model.MarketDataProvider, func() error, error) {
	chain, closeChain, err := marketdata.BuildDefaultRegistry().Open(ctx, cfg, opts.Metrics)
	if err != nil {
		return nil, closeChain, err
	}
	log.Printf("[app] data sources: %v", chain.Sources())
	if opts.NoCache || cfg.Data.Source == "sqlite" || cfg.Data.CachePath == "" {
		return chain, closeChain, nil
	}

	db, err := sqlite.Open(cfg.Data.CachePath)
	if err != nil {
		log.Printf("[app] bar cache unavailable: %v (continuing uncached)", err)
		return chain, closeChain, nil
	}
	if opts.Health != nil {
		opts.Health.AddProbe("bar_cache", db.Ping)
	}
	session, err := Session(cfg)
	if err != nil {
		db.Close()
		return nil, closeChain, err
	}
	p := cache.NewProvider(chain, sqlite.NewBarStore(db), cache.Options{
		Source:       cfg.Data.Source,
		MaxAge:       cfg.Data.CacheMaxAge,
		MarketMinAge: cfg.Data.MarketMinAge,
		Force:        opts.Refresh,
		Session:      &session,
		Metrics:      opts.Metrics,
	})
	closeAll := func() error {
		return errors.Join(closeChain(), db.Close())
	}
	return p, closeAll, nil
}

// Notifier returns the configured notifier chain. The log notifier is
// always present.
func Notifier(cfg *config.Config) notification.Notifier {
	chain := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		chain = append(chain, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		log.Printf("[app] telegram alerts enabled (token %s)", config.Masked(cfg.Notify.TelegramToken))
	}
	if cfg.Notify.WebhookURL != "" {
		chain = append(chain, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
		log.Printf("[app] webhook alerts enabled")
	}
	return chain
}

// SinkOptions tunes OpenSinks.
type SinkOptions struct {
	RunID    string
	Strategy string
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	// Extra sinks are appended after the configured ones.
	Extra []model.TradeSink
}

// Sinks is the fan-out of every enabled trade sink wrapped with alerts.
type Sinks struct {
	*sink.Notifying
	multi sink.Multi
	// Stream is the Redis sink when enabled. Pending trades are flushed on
	// Close.
	Stream *redis.TradeStream
}

// Close flushes buffered Redis trades and closes every sink.
func (s *Sinks) Close() error {
	var errs []error
	if s.Stream != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Stream.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis flush: %w", err))
		}
		cancel()
	}
	errs = append(errs, s.multi.Close())
	return errors.Join(errs...)
}

// Len returns the number of fanned-out sinks.
func (s *Sinks) Len() int { return len(s.multi) }

// OpenSinks opens every sink enabled in the sinks section. Postgres and
// SQLite failures are fatal since they hold the durable journal. A Redis
// dial failure only disables the stream.
func OpenSinks(ctx context.Context, cfg *config.Config, opts SinkOptions) (*Sinks, error) {
	var multi sink.Multi
	fail := func(err error) (*Sinks, error) {
		multi.Close()
		return nil, err
	}

	if cfg.Sinks.CSVPath != "" {
		s, err := sink.OpenCSV(cfg.Sinks.CSVPath)
		if err != nil {
			return fail(err)
		}
		multi = append(multi, s)
		log.Printf("[app] csv trade log: %s", cfg.Sinks.CSVPath)
	}
	if cfg.Sinks.SQLitePath != "" {
		db, err := sqlite.Open(cfg.Sinks.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("sqlite journal: %w", err))
		}
		multi = append(multi, closingJournal{Journal: sqlite.NewJournal(db, opts.RunID, opts.Strategy), db: db})
		if opts.Health != nil {
			opts.Health.AddProbe("sqlite_journal", db.Ping)
		}
		log.Printf("[app] sqlite journal: %s", cfg.Sinks.SQLitePath)
	}
	if cfg.Sinks.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Sinks.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return fail(fmt.Errorf("postgres migrate: %w", err))
		}
		store := postgres.NewTradeStore(pool, opts.RunID, opts.Strategy)
		multi = append(multi, store)
		if opts.Health != nil {
			opts.Health.AddProbe("postgres", store.Ping)
		}
	}

	var stream *redis.TradeStream
	if cfg.Sinks.RedisAddr != "" {
		client, err := redis.Dial(redis.Config{
			Addr:     cfg.Sinks.RedisAddr,
			Password: cfg.Sinks.RedisPassword,
			DB:       cfg.Sinks.RedisDB,
		})
		if err != nil {
			log.Printf("[app] WARNING: redis unavailable: %v (continuing without stream)", err)
		} else {
			stream = redis.NewTradeStream(client, opts.RunID, redis.WithMetrics(opts.Metrics))
			multi = append(multi, stream)
			if opts.Health != nil {
				opts.Health.AddProbe("redis", stream.Ping)
			}
		}
	}
	multi = append(multi, opts.Extra...)

	return &Sinks{
		Notifying: &sink.Notifying{
			Next:      multi,
			Notifier:  Notifier(cfg),
			AllTrades: cfg.Notify.AllTrades,
			OnError: func(err error) {
				log.Printf("[app] alert failed: %v", err)
			},
		},
		multi:  multi,
		Stream: stream,
	}, nil
}

// closingJournal owns the journal's database handle.
type closingJournal struct {
	*sqlite.Journal
	db *sqlite.DB
}

func (j closingJournal) Close() error { return j.db.Close() }
