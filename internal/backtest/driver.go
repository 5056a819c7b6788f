package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"papertrader/internal/model"
	"papertrader/internal/strategy"
)

// Driver runs one strategy instance over a bar series.
type Driver struct {
	cfg   Config
	strat strategy.Strategy
	opts  []Option
}

// New validates cfg and returns a driver. The strategy instance must not be
// shared with another concurrent run.
func New(cfg Config, strat strategy.Strategy, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, fmt.Errorf("backtest: nil strategy")
	}
	return &Driver{cfg: cfg, strat: strat, opts: opts}, nil
}

// Run steps through series bar by bar and returns the final account state.
// Insufficient funds are counted as skipped steps. Ledger invariant
// violations, sink errors and context cancellation halt the run; the
// partial Result up to the halting bar is returned alongside the error.
// The strategy's history is reset first, so a Driver can be run again.
func (d *Driver) Run(ctx context.Context, series model.Series) (*Result, error) {
	o := applyOptions(d.opts)
	runID := o.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := o.log.With(slog.String("run_id", runID))

	opts := append(append([]Option{}, d.opts...), WithLogger(log))
	stepper, err := NewStepper(d.cfg, series.Symbol(), d.strat, opts...)
	if err != nil {
		return nil, err
	}
	d.strat.Reset()

	started := time.Now()
	log.Info("backtest started",
		slog.String("symbol", series.Symbol()),
		slog.String("strategy", d.strat.Name()),
		slog.String("params", d.strat.Parameters().String()),
		slog.Int("bars", series.Len()))

	partial := func(halt error) *Result {
		res := newResult(runID, d.strat, series, stepper, d.cfg)
		res.Duration = time.Since(started)
		if halt != nil {
			res.Halted = halt.Error()
		}
		return res
	}

	for i := 0; i < series.Len(); i++ {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("backtest cancelled at bar %d: %w", i, err)
			return partial(err), err
		}
		if _, err := stepper.Step(ctx, series.Window(i)); err != nil {
			log.Error("backtest halted", slog.Int("bar", i), slog.String("error", err.Error()))
			return partial(err), err
		}
	}

	if err := stepper.Flush(ctx, runID); err != nil {
		return partial(err), err
	}

	res := partial(nil)
	o.metrics.ObserveRun(res.Duration)

	log.Info("backtest complete",
		slog.String("final_balance", res.FinalBalance.StringFixed(2)),
		slog.String("realized_pnl", res.RealizedPnL.StringFixed(2)),
		slog.Int("trades", len(res.Trades)),
		slog.Int("skipped", res.SkippedSteps))
	return res, nil
}
