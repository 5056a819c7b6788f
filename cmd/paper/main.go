// cmd/paper runs a strategy as a live paper trader: it polls the configured
// data source every live.interval, steps each new bar through the same
// stepper the backtester uses, and records trades to the configured sinks.
// Creating the kill-switch file stops the loop after the current poll.
//
// Usage:
//
//	go run ./cmd/paper --symbol=NIFTY --interval=5m
//	go run ./cmd/paper --replay --speed=60   # replay history through the live loop
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
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
	"papertrader/internal/marketdata/wsquote"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/paper"
	"papertrader/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[paper] starting...")

	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file (optional)")
	stratName := flag.String("strategy", "", "Registered strategy name (overrides config)")
	paramStr := flag.String("params", "", "Strategy params: key=value,... (merged over config)")
	symbol := flag.String("symbol", "", "Symbol to trade (overrides config)")
	interval := flag.String("interval", "", "Bar interval (overrides config)")
	source := flag.String("source", "", "Primary data source (overrides config)")
	every := flag.Duration("every", 0, "Poll period (overrides live.interval)")
	ignoreHours := flag.Bool("ignore-hours", false, "Poll outside market hours")
	replay := flag.Bool("replay", false, "Replay the lookback window through the loop instead of polling")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("[paper] %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[paper] config: %v", err)
	}
	if *stratName != "" && *stratName != cfg.Strategy.Name {
		cfg.Strategy.Name = *stratName
		cfg.Strategy.Params = nil
	}
	if *symbol != "" {
		cfg.Backtest.Symbol = *symbol
	}
	if *interval != "" {
		cfg.Backtest.Interval = *interval
	}
	if *source != "" {
		cfg.Data.Source = *source
	}
	if *every > 0 {
		cfg.Live.Interval = *every
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[paper] config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}
	slogger := logger.Init("paper", level, cfg.App.LogFormat)

	params := strategy.Params(cfg.Strategy.Params)
	if *paramStr != "" {
		over, err := strategy.ParseParams(*paramStr)
		if err != nil {
			log.Fatalf("[paper] --params: %v", err)
		}
		params = params.Merge(over)
	}
	strat, err := strategy.BuildDefaultRegistry().Build(cfg.Strategy.Name, params)
	if err != nil {
		log.Fatalf("[paper] strategy: %v", err)
	}
	btCfg, err := app.BacktestConfig(cfg)
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}
	session, err := app.Session(cfg)
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	prom := metrics.New(reg)
	health := metrics.NewHealthStatus()
	var metricsSrv *metrics.Server
	if cfg.App.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.App.MetricsAddr, reg, health)
		metricsSrv.Start()
		health.StartLivenessChecker(ctx, 10*time.Second)
	}

	// ---- Market data ----
	provider, closeData, err := app.OpenMarketData(ctx, cfg, app.DataOptions{Metrics: prom, Health: health})
	if err != nil {
		log.Fatalf("[paper] market data: %v", err)
	}
	defer closeData()

	if cfg.Live.QuoteWSURL != "" {
		quotes := wsquote.New(wsquote.Config{URL: cfg.Live.QuoteWSURL, Symbols: []string{cfg.Backtest.Symbol}})
		quotes.OnReconnect = func() { log.Println("[paper] quote feed reconnecting") }
		go func() {
			if err := quotes.Run(ctx); err != nil {
				log.Printf("[paper] quote feed stopped: %v", err)
			}
		}()
		provider = marketdata.Quoted{MarketDataProvider: provider, Quotes: quotes}
		health.AddProbe("quote_feed", func(ctx context.Context) error {
			_, err := quotes.CurrentPrice(ctx, cfg.Backtest.Symbol)
			return err
		})
		log.Printf("[paper] live quotes from %s", cfg.Live.QuoteWSURL)
	}

	// ---- Sinks ----
	runID := uuid.NewString()
	sinks, err := app.OpenSinks(ctx, cfg, app.SinkOptions{
		RunID:    runID,
		Strategy: strat.Name(),
		Metrics:  prom,
		Health:   health,
	})
	if err != nil {
		log.Fatalf("[paper] sinks: %v", err)
	}

	stepper, err := backtest.NewStepper(btCfg, cfg.Backtest.Symbol, strat,
		backtest.WithSink(sinks),
		backtest.WithLogger(slogger),
		backtest.WithMetrics(prom),
	)
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}

	loopCfg := paper.Config{
		Symbol:       cfg.Backtest.Symbol,
		Interval:     cfg.Backtest.Interval,
		LookbackDays: lookbackFor(cfg.Backtest.Interval, strat.RequiredLookback()),
		Every:        cfg.Live.Interval,
		KillSwitch:   cfg.Live.KillSwitchFile,
		StateFile:    cfg.Live.StateFile,
	}
	if !*ignoreHours && !*replay {
		loopCfg.Session = &session
	}
	loop := paper.New(loopCfg, provider, stepper, runID,
		paper.WithLogger(slogger),
		paper.WithMetrics(prom),
		paper.WithHealth(health),
	)

	log.Printf("[paper] run %s: %s %s on %s every %s", runID, strat.Name(), cfg.Backtest.Symbol, cfg.Backtest.Interval, cfg.Live.Interval)
	log.Printf("[paper] %s", session.StatusString(time.Now()))

	var runErr error
	if *replay {
		bars, err := provider.Fetch(ctx, cfg.Backtest.Symbol, cfg.Backtest.Interval, cfg.Backtest.LookbackDays)
		if err != nil {
			log.Fatalf("[paper] fetch %s: %v", cfg.Backtest.Symbol, err)
		}
		runErr = loop.Replay(ctx, bars, *speed)
	} else {
		runErr = loop.Run(ctx)
	}

	// ---- Shutdown ----
	log.Println("[paper] shutting down...")
	if err := sinks.Close(); err != nil {
		log.Printf("[paper] close sinks: %v", err)
	}
	if metricsSrv != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Stop(stopCtx)
		stop()
	}

	switch {
	case runErr == nil, errors.Is(runErr, paper.ErrKillSwitch), errors.Is(runErr, context.Canceled):
		log.Println("[paper] shutdown complete.")
	default:
		closeData()
		log.Fatalf("[paper] %v", runErr)
	}
}

// lookbackFor returns enough calendar days of bars to cover the strategy
// warm-up, with slack for weekends and holidays.
func lookbackFor(interval string, bars int) int {
	d, err := model.ParseInterval(interval)
	if err != nil || d <= 0 {
		return 5
	}
	const sessionHours = 6
	perDay := int(sessionHours * time.Hour / d)
	if d >= 24*time.Hour || perDay < 1 {
		perDay = 1
	}
	days := (bars+perDay-1)/perDay*2 + 3
	return days
}
