package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/ledger"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/risk"
	"papertrader/internal/strategy"
)

// ErrInvariantViolation is returned when the ledger rejects an action the
// driver believed valid (selling a missing position, out-of-order time).
// It halts the run.
var ErrInvariantViolation = errors.New("ledger invariant violated")

// Action is the resolved action for one step.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// StepResult describes what happened on one bar.
type StepResult struct {
	Bar     model.Bar
	Signal  strategy.Signal
	Exit    *risk.ForcedExit
	Action  Action
	Trade   *model.Trade
	Skipped bool // buy rejected by the ledger (insufficient funds, bad price)
}

// Stepper applies one bar at a time. The backtest Driver feeds it every
// window of a series; the live paper loop feeds it one window per poll.
type Stepper struct {
	symbol   string
	qty      int64
	strat    strategy.Strategy
	governor risk.Governor
	ledger   *ledger.Ledger
	sink     model.TradeSink
	log      *slog.Logger
	metrics  *metrics.Metrics

	steps       int
	skipped     int
	forcedExits map[risk.Reason]int
	lastBar     model.Bar
}

// NewStepper builds a stepper for symbol with a fresh ledger.
func NewStepper(cfg Config, symbol string, strat strategy.Strategy, opts ...Option) (*Stepper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	led, err := ledger.New(cfg.InitialBalance, o.ledgerOpts...)
	if err != nil {
		return nil, err
	}
	return &Stepper{
		symbol:      symbol,
		qty:         cfg.QuantityPerTrade,
		strat:       strat,
		governor:    cfg.governor(),
		ledger:      led,
		sink:        o.sink,
		log:         o.log.With(slog.String("symbol", symbol), slog.String("strategy", strat.Name())),
		metrics:     o.metrics,
		forcedExits: make(map[risk.Reason]int),
	}, nil
}

// Ledger exposes the stepper's ledger for reads.
func (s *Stepper) Ledger() *ledger.Ledger { return s.ledger }

// Skipped returns the number of skipped steps so far.
func (s *Stepper) Skipped() int { return s.skipped }

// Steps returns the number of bars processed so far.
func (s *Stepper) Steps() int { return s.steps }

// LastBar returns the most recent bar processed.
func (s *Stepper) LastBar() model.Bar { return s.lastBar }

// ForcedExits returns a copy of the forced exit counts by reason.
func (s *Stepper) ForcedExits() map[risk.Reason]int {
	out := make(map[risk.Reason]int, len(s.forcedExits))
	for k, v := range s.forcedExits {
		out[k] = v
	}
	return out
}

// Step evaluates the window ending at the current bar:
// risk check (if holding), strategy signal, resolution, ledger, sink.
// A forced exit overrides the signal. BUY only executes when flat and SELL
// only when holding.
func (s *Stepper) Step(ctx context.Context, w model.Window) (StepResult, error) {
	start := time.Now()
	bar := w.Last()
	if bar.Symbol == "" {
		bar.Symbol = s.symbol
	}
	s.steps++
	s.lastBar = bar

	res := StepResult{Bar: bar, Action: ActionNone}

	pos, holding := s.ledger.Position(s.symbol)
	if holding {
		res.Exit = s.governor.Check(&pos, bar)
	}

	// The strategy sees every bar so its history has one entry per step.
	res.Signal = s.strat.OnBar(w)
	s.metrics.ObserveSignal(s.strat.Name(), res.Signal.String())

	price := decimal.NewFromFloat(bar.Close)
	var (
		trade model.Trade
		err   error
	)
	switch {
	case res.Exit != nil:
		res.Action = ActionSell
		trade, err = s.ledger.SellWithReason(s.symbol, res.Exit.Price, bar.TS, res.Exit.Reason.String())
	case res.Signal == strategy.Buy && !holding:
		res.Action = ActionBuy
		trade, err = s.ledger.Buy(s.symbol, price, s.qty, bar.TS)
	case res.Signal == strategy.Sell && holding:
		res.Action = ActionSell
		trade, err = s.ledger.Sell(s.symbol, price, bar.TS)
	default:
		s.markEquity(bar.Close)
		s.metrics.ObserveBar(time.Since(start))
		return res, nil
	}

	res, err = s.settle(ctx, res, trade, err)
	if err != nil {
		return res, err
	}
	s.markEquity(bar.Close)
	s.metrics.ObserveBar(time.Since(start))
	return res, nil
}

// CheckQuote applies the stop-loss / take-profit rules to a live price
// between bars. The strategy is not consulted, so its history still holds
// one entry per bar. A breach sells the open position at price, stamped ts,
// which must not precede the last trade.
func (s *Stepper) CheckQuote(ctx context.Context, price float64, ts time.Time) (StepResult, error) {
	bar := model.Bar{Symbol: s.symbol, TS: ts, Open: price, High: price, Low: price, Close: price}
	res := StepResult{Bar: bar, Action: ActionNone}
	pos, holding := s.ledger.Position(s.symbol)
	if !holding {
		return res, nil
	}
	defer s.markEquity(price)
	if res.Exit = s.governor.Check(&pos, bar); res.Exit == nil {
		return res, nil
	}
	res.Action = ActionSell
	trade, err := s.ledger.SellWithReason(s.symbol, res.Exit.Price, ts, res.Exit.Reason.String())
	return s.settle(ctx, res, trade, err)
}

// settle books the outcome of a ledger call. Rejected orders become skipped
// steps; executed trades are counted and sent to the sink.
func (s *Stepper) settle(ctx context.Context, res StepResult, trade model.Trade, err error) (StepResult, error) {
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInvalidOrder):
			s.skipped++
			res.Skipped = true
			s.metrics.ObserveSkip()
			s.log.Warn("step skipped",
				slog.String("action", string(res.Action)),
				slog.Time("ts", res.Bar.TS),
				slog.String("error", err.Error()))
			return res, nil
		default:
			return res, fmt.Errorf("%w: %s at %s: %w", ErrInvariantViolation, res.Action, res.Bar.TS.Format(time.RFC3339), err)
		}
	}

	res.Trade = &trade
	if res.Exit != nil {
		s.forcedExits[res.Exit.Reason]++
		s.metrics.ObserveForcedExit(res.Exit.Reason.String())
		s.log.Info("forced exit",
			slog.String("reason", res.Exit.Reason.String()),
			slog.String("price", res.Exit.Price.String()),
			slog.String("move", res.Exit.Move.StringFixed(4)))
	}
	s.metrics.ObserveTrade(string(trade.Side), trade.Reason)
	s.log.Debug("trade",
		slog.String("side", string(trade.Side)),
		slog.String("price", trade.Price.String()),
		slog.Int64("qty", trade.Qty),
		slog.String("pnl", trade.PnLOrZero().String()))

	if s.sink != nil {
		sinkStart := time.Now()
		err := s.sink.Record(ctx, trade)
		s.metrics.ObserveSinkWrite("trades", time.Since(sinkStart), err)
		if err != nil {
			return res, fmt.Errorf("record trade %s: %w", trade.ID, err)
		}
	}

	snap := s.ledger.Snapshot()
	s.metrics.SetAccount(snap.Balance.InexactFloat64(), snap.RealizedPnL.InexactFloat64(), len(snap.Positions))
	return res, nil
}

// Equity returns the balance plus the open position marked at price.
func (s *Stepper) Equity(price float64) decimal.Decimal {
	eq := s.ledger.Balance()
	if pos, ok := s.ledger.Position(s.symbol); ok {
		eq = eq.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(pos.Qty)))
	}
	return eq
}

func (s *Stepper) markEquity(price float64) {
	s.metrics.SetEquity(s.Equity(price).InexactFloat64())
}

// Snapshot returns the run snapshot reported to snapshot sinks.
func (s *Stepper) Snapshot(runID string) model.RunSnapshot {
	snap := s.ledger.Snapshot()
	return model.RunSnapshot{
		RunID:         runID,
		Strategy:      s.strat.Name(),
		Symbol:        s.symbol,
		Balance:       snap.Balance,
		RealizedPnL:   snap.RealizedPnL,
		OpenPositions: snap.Positions,
		TradeCount:    snap.TradeCount,
		SkippedSteps:  s.skipped,
		TS:            s.lastBar.TS,
	}
}

// Flush sends the snapshot to the sink if it accepts snapshots.
func (s *Stepper) Flush(ctx context.Context, runID string) error {
	ss, ok := s.sink.(model.SnapshotSink)
	if !ok {
		return nil
	}
	if err := ss.RecordSnapshot(ctx, s.Snapshot(runID)); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}
