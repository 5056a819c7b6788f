// Package paper runs a strategy against live (or replayed) bars through the
// same Stepper the backtest driver uses, one new bar per poll.
package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"papertrader/internal/backtest"
	"papertrader/internal/marketdata"
	"papertrader/internal/markethours"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

var (
	// ErrKillSwitch is returned by Run when the kill-switch file appears.
	ErrKillSwitch = errors.New("kill switch engaged")
	// ErrFetch wraps provider failures and unusable bar data. Run retries
	// them on the next tick.
	ErrFetch = errors.New("fetch bars")
)

// Config configures a Loop.
type Config struct {
	Symbol       string
	Interval     string
	LookbackDays int
	Every        time.Duration // poll period
	KillSwitch   string        // path whose existence stops the loop
	StateFile    string        // final snapshot is written here as JSON
	// Session gates polling to market hours. Nil polls around the clock.
	Session *markethours.Session
}

// Loop polls a provider and steps every bar newer than the last one seen.
type Loop struct {
	cfg      Config
	provider model.MarketDataProvider
	stepper  *backtest.Stepper
	runID    string
	log      *slog.Logger
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	now      func() time.Time

	last  time.Time
	polls int
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger (slog.Default by default).
func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.log = l } }

// WithMetrics records market state and account gauges.
func WithMetrics(m *metrics.Metrics) Option { return func(lp *Loop) { lp.metrics = m } }

// WithHealth reports the last bar time to the health endpoint.
func WithHealth(h *metrics.HealthStatus) Option { return func(lp *Loop) { lp.health = h } }

// New returns a loop driving stepper with bars from provider.
func New(cfg Config, provider model.MarketDataProvider, stepper *backtest.Stepper, runID string, opts ...Option) *Loop {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 1
	}
	if cfg.Every <= 0 {
		cfg.Every = 5 * time.Minute
	}
	lp := &Loop{
		cfg:      cfg,
		provider: provider,
		stepper:  stepper,
		runID:    runID,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(lp)
	}
	lp.log = lp.log.With(slog.String("run_id", runID), slog.String("symbol", cfg.Symbol))
	return lp
}

// Poll fetches bars once and steps the newest bar if it has not been seen.
// Without a new bar an open position is checked against the live price
// instead. It returns false when neither produced a step or a trade.
func (lp *Loop) Poll(ctx context.Context) (backtest.StepResult, bool, error) {
	lp.polls++
	bars, err := lp.provider.Fetch(ctx, lp.cfg.Symbol, lp.cfg.Interval, lp.cfg.LookbackDays)
	if err != nil {
		return backtest.StepResult{}, false, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(bars) == 0 || !bars[len(bars)-1].TS.After(lp.last) {
		lp.log.Debug("no new bar", slog.Time("last", lp.last))
		res, err := lp.checkQuote(ctx)
		return res, res.Trade != nil, err
	}
	series, err := model.NewSeries(lp.cfg.Symbol, bars)
	if err != nil {
		return backtest.StepResult{}, false, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return lp.step(ctx, series.Window(series.Len()-1))
}

func (lp *Loop) step(ctx context.Context, w model.Window) (backtest.StepResult, bool, error) {
	res, err := lp.stepper.Step(ctx, w)
	if err != nil {
		return res, false, err
	}
	lp.last = res.Bar.TS
	if lp.health != nil {
		lp.health.SetLastBarTime(res.Bar.TS)
	}

	attrs := []any{
		slog.Time("bar", res.Bar.TS),
		slog.Float64("close", res.Bar.Close),
		slog.String("signal", res.Signal.String()),
		slog.String("action", string(res.Action)),
		slog.String("balance", lp.stepper.Ledger().Balance().StringFixed(2)),
	}
	if res.Exit != nil {
		attrs = append(attrs, slog.String("exit", res.Exit.Reason.String()))
	}
	if res.Skipped {
		attrs = append(attrs, slog.Bool("skipped", true))
	}
	lp.log.Info("step", attrs...)
	return res, true, nil
}

// checkQuote lets the risk rules exit an open position between bars at the
// provider's current price and marks equity at that price.
func (lp *Loop) checkQuote(ctx context.Context) (backtest.StepResult, error) {
	if _, holding := lp.stepper.Ledger().Position(lp.cfg.Symbol); !holding || lp.last.IsZero() {
		return backtest.StepResult{}, nil
	}
	price, err := lp.provider.CurrentPrice(ctx, lp.cfg.Symbol)
	if err != nil {
		return backtest.StepResult{}, fmt.Errorf("%w: current price: %w", ErrFetch, err)
	}
	if price <= 0 {
		return backtest.StepResult{}, nil
	}
	res, err := lp.stepper.CheckQuote(ctx, price, lp.quoteTime())
	if err != nil {
		return res, err
	}
	if res.Exit != nil {
		lp.log.Info("quote exit",
			slog.Float64("price", price),
			slog.String("exit", res.Exit.Reason.String()),
			slog.Bool("skipped", res.Skipped),
			slog.String("balance", lp.stepper.Ledger().Balance().StringFixed(2)))
	}
	return res, nil
}

// quoteTime stamps a between-bar exit. It is capped at the start of the
// bucket after the last stepped bar, so the next bar never precedes it.
func (lp *Loop) quoteTime() time.Time {
	ts := lp.now().UTC()
	if d, err := model.ParseInterval(lp.cfg.Interval); err == nil && d > 0 {
		if next := lp.last.Add(d); ts.After(next) {
			ts = next
		}
	}
	if ts.Before(lp.last) {
		ts = lp.last
	}
	return ts
}

// Run polls every cfg.Every until ctx is cancelled or the kill switch
// appears, then flushes the final snapshot. Fetch errors are logged and
// retried on the next tick; step errors stop the loop.
func (lp *Loop) Run(ctx context.Context) error {
	lp.log.Info("paper loop started",
		slog.String("interval", lp.cfg.Interval),
		slog.Duration("every", lp.cfg.Every),
		slog.String("kill_switch", lp.cfg.KillSwitch))

	ticker := time.NewTicker(lp.cfg.Every)
	defer ticker.Stop()

	var runErr error
	for {
		if lp.killed() {
			lp.log.Warn("kill switch detected, stopping")
			runErr = ErrKillSwitch
			break
		}
		if lp.marketOpen() {
			if _, _, err := lp.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					break
				}
				if !errors.Is(err, ErrFetch) {
					runErr = err
					break
				}
				lp.log.Error("poll failed", slog.String("error", err.Error()))
			}
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	return errors.Join(runErr, lp.Stop(context.WithoutCancel(ctx)))
}

// Replay steps bars through the loop's stepper in order, pacing them by
// speed (see marketdata.Replay), then flushes the final snapshot.
func (lp *Loop) Replay(ctx context.Context, bars []model.Bar, speed float64) error {
	series, err := model.NewSeries(lp.cfg.Symbol, bars)
	if err != nil {
		return err
	}
	i := 0
	err = marketdata.Replay(ctx, series.Bars(), speed, func(model.Bar) error {
		if lp.killed() {
			return ErrKillSwitch
		}
		_, _, err := lp.step(ctx, series.Window(i))
		i++
		return err
	})
	return errors.Join(err, lp.Stop(context.WithoutCancel(ctx)))
}

// Stop sends the final snapshot to the sinks and writes the state file.
func (lp *Loop) Stop(ctx context.Context) error {
	snap := lp.stepper.Snapshot(lp.runID)
	lp.log.Info("paper loop stopped",
		slog.Int("polls", lp.polls),
		slog.Int("steps", lp.stepper.Steps()),
		slog.String("balance", snap.Balance.StringFixed(2)),
		slog.String("realized_pnl", snap.RealizedPnL.StringFixed(2)),
		slog.Int("open_positions", len(snap.OpenPositions)))

	err := lp.stepper.Flush(ctx, lp.runID)
	if lp.cfg.StateFile != "" {
		err = errors.Join(err, writeState(lp.cfg.StateFile, snap))
	}
	return err
}

func (lp *Loop) killed() bool {
	if lp.cfg.KillSwitch == "" {
		return false
	}
	_, err := os.Stat(lp.cfg.KillSwitch)
	return err == nil
}

func (lp *Loop) marketOpen() bool {
	if lp.cfg.Session == nil {
		lp.metrics.SetMarketOpen(true)
		return true
	}
	now := lp.now()
	open := lp.cfg.Session.IsOpen(now)
	lp.metrics.SetMarketOpen(open)
	if !open {
		lp.log.Debug("market closed", slog.String("status", lp.cfg.Session.StatusString(now)))
	}
	return open
}

func writeState(path string, snap model.RunSnapshot) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state file: %w", err)
		}
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("state file: %w", err)
	}
	return os.Rename(tmp, path)
}
