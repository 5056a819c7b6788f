// cmd/backtest fetches historical bars for one symbol, runs a registered
// strategy over them with stop-loss / take-profit enforcement, and prints the
// final account report. With --sweep-fast/--sweep-slow it runs an SMA
// crossover parameter grid concurrently instead.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=NIFTY --interval=5m --days=30
//	go run ./cmd/backtest --strategy=rsi_threshold --params=rsi_period=10
//	go run ./cmd/backtest --sweep-fast=3,5,8 --sweep-slow=13,21,34
//	go run ./cmd/backtest --balance=50000 --qty=25
//	go run ./cmd/backtest --status              # bar cache contents and freshness
//	go run ./cmd/backtest --show-run=<run id>   # journaled trades of a past run
//	go run ./cmd/backtest --archive             # also copy fetched bars to ClickHouse
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"papertrader/config"
	"papertrader/internal/app"
	"papertrader/internal/backtest"
	"papertrader/internal/logger"
	"papertrader/internal/marketdata"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file (optional)")
	stratName := flag.String("strategy", "", "Registered strategy name (overrides config)")
	paramStr := flag.String("params", "", "Strategy params: key=value,... (merged over config)")
	symbol := flag.String("symbol", "", "Symbol to backtest (overrides config)")
	interval := flag.String("interval", "", "Bar interval, e.g. 5m, 1h, 1d (overrides config)")
	days := flag.Int("days", 0, "Lookback in days (overrides config)")
	source := flag.String("source", "", "Primary data source (overrides config)")
	refresh := flag.Bool("refresh", false, "Ignore the bar cache and fetch from the source")
	sl := flag.Float64("sl", -1, "Stop-loss fraction, 0 disables (overrides config)")
	tp := flag.Float64("tp", -1, "Take-profit fraction, 0 disables (overrides config)")
	priceMode := flag.String("price-mode", "", "Risk price mode: close|intrabar (overrides config)")
	balance := flag.Float64("balance", 0, "Initial balance (overrides config)")
	qty := flag.Int64("qty", 0, "Quantity per trade (overrides config)")
	sweepFast := flag.String("sweep-fast", "", "Comma-separated fast periods for an SMA sweep")
	sweepSlow := flag.String("sweep-slow", "", "Comma-separated slow periods for an SMA sweep")
	workers := flag.Int("workers", runtime.NumCPU(), "Concurrent runs during a sweep")
	listStrategies := flag.Bool("list-strategies", false, "List registered strategies and exit")
	listSources := flag.Bool("list-sources", false, "List registered data sources and exit")
	status := flag.Bool("status", false, "Print bar cache contents and freshness, then exit")
	showRun := flag.String("show-run", "", "Print the journaled snapshot and trades of a run, then exit")
	archive := flag.Bool("archive", false, "Copy fetched bars into the ClickHouse archive")
	flag.Parse()

	strategies := strategy.BuildDefaultRegistry()
	if *listStrategies {
		for _, e := range strategies.Entries() {
			fmt.Printf("%-16s %s\n%16s defaults: %s\n", e.Name, e.Description, "", e.Defaults)
		}
		return
	}
	if *listSources {
		for _, s := range marketdata.BuildDefaultRegistry().Sources() {
			auth := ""
			if s.RequiresAuth {
				auth = " [auth]"
			}
			fmt.Printf("%-12s %s%s\n", s.Name, s.Description, auth)
		}
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	app.Overrides{
		Strategy:   *stratName,
		Symbol:     *symbol,
		Interval:   *interval,
		Source:     *source,
		PriceMode:  *priceMode,
		Days:       *days,
		Balance:    *balance,
		Quantity:   *qty,
		StopLoss:   *sl,
		TakeProfit: *tp,
	}.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}

	if *status || *showRun != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if *status {
			err = app.DataStatus(ctx, cfg, os.Stdout, time.Now())
		} else {
			err = app.ShowRun(ctx, cfg, *showRun, os.Stdout)
		}
		if err != nil {
			cancel()
			log.Fatalf("[backtest] %v", err)
		}
		return
	}

	level, err := logger.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	slogger := logger.Init("backtest", level, cfg.App.LogFormat)

	params := strategy.Params(cfg.Strategy.Params)
	if *paramStr != "" {
		over, err := strategy.ParseParams(*paramStr)
		if err != nil {
			log.Fatalf("[backtest] --params: %v", err)
		}
		params = params.Merge(over)
	}

	btCfg, err := app.BacktestConfig(cfg)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	prom := metrics.New(reg)
	health := metrics.NewHealthStatus()
	if cfg.App.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.App.MetricsAddr, reg, health)
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	provider, closeData, err := app.OpenMarketData(ctx, cfg, app.DataOptions{
		Refresh: *refresh,
		Metrics: prom,
		Health:  health,
	})
	if err != nil {
		log.Fatalf("[backtest] market data: %v", err)
	}
	defer closeData()

	bars, err := provider.Fetch(ctx, cfg.Backtest.Symbol, cfg.Backtest.Interval, cfg.Backtest.LookbackDays)
	if err != nil {
		log.Fatalf("[backtest] fetch %s: %v", cfg.Backtest.Symbol, err)
	}
	series, err := model.NewSeries(cfg.Backtest.Symbol, bars)
	if err != nil {
		log.Fatalf("[backtest] bad series: %v", err)
	}
	log.Printf("[backtest] %d bars of %s %s", series.Len(), cfg.Backtest.Symbol, cfg.Backtest.Interval)

	if *archive {
		if err := app.ArchiveBars(ctx, cfg, cfg.Backtest.Interval, bars); err != nil {
			log.Printf("[backtest] WARNING: archive: %v", err)
		} else {
			log.Printf("[backtest] archived %d bars to clickhouse", len(bars))
		}
	}

	if *sweepFast != "" || *sweepSlow != "" {
		if err := runSweep(ctx, strategies, series, btCfg, *sweepFast, *sweepSlow, *workers, prom, slogger); err != nil {
			log.Fatalf("[backtest] sweep: %v", err)
		}
		return
	}

	strat, err := strategies.Build(cfg.Strategy.Name, params)
	if err != nil {
		log.Fatalf("[backtest] strategy: %v", err)
	}

	runID := uuid.NewString()
	sinks, err := app.OpenSinks(ctx, cfg, app.SinkOptions{
		RunID:    runID,
		Strategy: strat.Name(),
		Metrics:  prom,
		Health:   health,
	})
	if err != nil {
		log.Fatalf("[backtest] sinks: %v", err)
	}
	closeSinks := func() {
		if err := sinks.Close(); err != nil {
			log.Printf("[backtest] close sinks: %v", err)
		}
	}

	driver, err := backtest.New(btCfg, strat,
		backtest.WithSink(sinks),
		backtest.WithLogger(slogger),
		backtest.WithMetrics(prom),
		backtest.WithRunID(runID),
	)
	if err != nil {
		closeSinks()
		log.Fatalf("[backtest] %v", err)
	}

	// A halted run still returns the account up to the failing bar.
	res, runErr := driver.Run(logger.WithRunID(ctx, runID), series)
	if res != nil {
		if err := res.Report(os.Stdout); err != nil {
			log.Printf("[backtest] report: %v", err)
		}
	}
	closeSinks()
	if runErr != nil {
		if errors.Is(runErr, backtest.ErrInvariantViolation) {
			log.Printf("[backtest] run %s halted on a ledger invariant; trades so far are in the sinks", runID)
		}
		closeData()
		log.Fatalf("[backtest] %v", runErr)
	}
}

func runSweep(ctx context.Context, reg *strategy.Registry, series model.Series, base backtest.Config,
	fastStr, slowStr string, workers int, prom *metrics.Metrics, slogger *slog.Logger) error {
	fast, err := parseInts(fastStr)
	if err != nil {
		return fmt.Errorf("--sweep-fast: %w", err)
	}
	slow, err := parseInts(slowStr)
	if err != nil {
		return fmt.Errorf("--sweep-slow: %w", err)
	}
	cases := backtest.Grid(base, fast, slow)
	if len(cases) == 0 {
		return fmt.Errorf("no fast < slow pairs in %v x %v", fast, slow)
	}
	log.Printf("[backtest] sweeping %d cases with %d workers", len(cases), workers)

	start := time.Now()
	results, err := backtest.Sweep(ctx, reg, series, cases, workers,
		backtest.WithLogger(slogger), backtest.WithMetrics(prom))
	if err != nil {
		return err
	}
	backtest.SortByPnL(results)

	fmt.Println()
	fmt.Printf("SWEEP %s  %d bars  %d cases  %s\n", series.Symbol(), series.Len(), len(results), time.Since(start).Round(time.Millisecond))
	for i, r := range results {
		fmt.Printf("%3d. %s\n", i+1, r.SummaryLine())
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad period %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
