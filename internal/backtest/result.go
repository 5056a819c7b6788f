package backtest

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/model"
	"papertrader/internal/risk"
	"papertrader/internal/strategy"
)

// Result is the final state of a backtest run.
type Result struct {
	RunID    string
	Strategy string
	Params   strategy.Params
	Symbol   string

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	RealizedPnL    decimal.Decimal
	OpenPositions  []model.Position
	Trades         []model.Trade

	SkippedSteps int
	ForcedExits  map[risk.Reason]int
	SignalCounts map[strategy.Signal]int

	Bars      int
	From, To  time.Time
	LastClose float64
	Duration  time.Duration

	// Halted holds the error that stopped the run early, empty otherwise.
	Halted string
}

// newResult summarizes the bars the stepper has processed, which is fewer
// than series.Len() when the run halted early.
func newResult(runID string, strat strategy.Strategy, series model.Series, s *Stepper, cfg Config) *Result {
	snap := s.ledger.Snapshot()
	n := min(s.steps, series.Len())
	r := &Result{
		RunID:          runID,
		Strategy:       strat.Name(),
		Params:         strat.Parameters(),
		Symbol:         series.Symbol(),
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   snap.Balance,
		RealizedPnL:    snap.RealizedPnL,
		OpenPositions:  snap.Positions,
		Trades:         s.ledger.Trades(),
		SkippedSteps:   s.skipped,
		ForcedExits:    s.ForcedExits(),
		SignalCounts:   strategy.Counts(strat.History()),
		Bars:           n,
	}
	if n > 0 {
		r.From = series.At(0).TS
		r.To = series.At(n - 1).TS
		r.LastClose = series.At(n - 1).Close
	}
	return r
}

// Equity returns the final balance plus open positions marked at the last
// close.
func (r *Result) Equity() decimal.Decimal {
	eq := r.FinalBalance
	mark := decimal.NewFromFloat(r.LastClose)
	for _, p := range r.OpenPositions {
		eq = eq.Add(mark.Mul(decimal.NewFromInt(p.Qty)))
	}
	return eq
}

// ReturnPct returns (equity - initial) / initial * 100.
func (r *Result) ReturnPct() decimal.Decimal {
	if r.InitialBalance.IsZero() {
		return decimal.Zero
	}
	return r.Equity().Sub(r.InitialBalance).Div(r.InitialBalance).Mul(decimal.NewFromInt(100))
}

// WinLoss counts closing trades with positive and non-positive PnL.
func (r *Result) WinLoss() (wins, losses int) {
	for _, t := range r.Trades {
		if t.PnL == nil {
			continue
		}
		if t.PnL.IsPositive() {
			wins++
		} else {
			losses++
		}
	}
	return wins, losses
}

// Snapshot converts the result to the run snapshot sent to sinks.
func (r *Result) Snapshot() model.RunSnapshot {
	return model.RunSnapshot{
		RunID:         r.RunID,
		Strategy:      r.Strategy,
		Symbol:        r.Symbol,
		Balance:       r.FinalBalance,
		RealizedPnL:   r.RealizedPnL,
		OpenPositions: r.OpenPositions,
		TradeCount:    len(r.Trades),
		SkippedSteps:  r.SkippedSteps,
		TS:            r.To,
	}
}

// Report writes the final report: summary box, signal stats and trade log.
func (r *Result) Report(w io.Writer) error {
	ew := &errWriter{w: w}
	wins, losses := r.WinLoss()

	ew.println()
	ew.println("╔══════════════════════════════════════════════╗")
	if r.Halted == "" {
		ew.println("║              BACKTEST COMPLETE               ║")
	} else {
		ew.println("║              BACKTEST HALTED                 ║")
	}
	ew.println("╠══════════════════════════════════════════════╣")
	if r.Halted != "" {
		ew.printf("║  Halted:          %-26s ║\n", truncate(r.Halted, 26))
	}
	ew.printf("║  Symbol:          %-26s ║\n", r.Symbol)
	ew.printf("║  Strategy:        %-26s ║\n", r.Strategy)
	ew.printf("║  Params:          %-26s ║\n", truncate(r.Params.String(), 26))
	ew.printf("║  Bars:            %-26d ║\n", r.Bars)
	if r.Bars > 0 {
		ew.printf("║  From:            %-26s ║\n", r.From.Format("2006-01-02 15:04"))
		ew.printf("║  To:              %-26s ║\n", r.To.Format("2006-01-02 15:04"))
	}
	ew.println("╠══════════════════════════════════════════════╣")
	ew.printf("║  Initial balance: %-26s ║\n", r.InitialBalance.StringFixed(2))
	ew.printf("║  Final balance:   %-26s ║\n", r.FinalBalance.StringFixed(2))
	ew.printf("║  Realized PnL:    %-26s ║\n", r.RealizedPnL.StringFixed(2))
	ew.printf("║  Equity:          %-26s ║\n", r.Equity().StringFixed(2))
	ew.printf("║  Return:          %-26s ║\n", r.ReturnPct().StringFixed(2)+"%")
	ew.printf("║  Trades:          %-26d ║\n", len(r.Trades))
	ew.printf("║  Wins / losses:   %-26s ║\n", fmt.Sprintf("%d / %d", wins, losses))
	ew.printf("║  Skipped steps:   %-26d ║\n", r.SkippedSteps)
	ew.printf("║  Stop-loss exits: %-26d ║\n", r.ForcedExits[risk.StopLoss])
	ew.printf("║  Take-profit:     %-26d ║\n", r.ForcedExits[risk.TakeProfit])
	ew.printf("║  Signals B/S/H:   %-26s ║\n", fmt.Sprintf("%d / %d / %d",
		r.SignalCounts[strategy.Buy], r.SignalCounts[strategy.Sell], r.SignalCounts[strategy.Hold]))
	for _, p := range r.OpenPositions {
		ew.printf("║  Open:            %-26s ║\n", fmt.Sprintf("%s %d @ %s", p.Symbol, p.Qty, p.AvgPrice.StringFixed(2)))
	}
	ew.println("╚══════════════════════════════════════════════╝")

	if len(r.Trades) > 0 {
		ew.println()
		ew.printf("  %-16s  %-4s  %10s  %6s  %10s  %s\n", "TIME", "SIDE", "PRICE", "QTY", "PNL", "REASON")
		for _, t := range r.Trades {
			pnl := "-"
			if t.PnL != nil {
				pnl = t.PnL.StringFixed(2)
			}
			ew.printf("  %-16s  %-4s  %10s  %6d  %10s  %s\n",
				t.TS.Format("2006-01-02 15:04"), t.Side, t.Price.StringFixed(2), t.Qty, pnl, t.Reason)
		}
	}
	return ew.err
}

// SummaryLine is a one-line rendering used by sweeps.
func (r *Result) SummaryLine() string {
	return fmt.Sprintf("%-40s trades=%-4d pnl=%-12s equity=%-12s skipped=%d",
		r.Strategy+"("+r.Params.String()+")", len(r.Trades),
		r.RealizedPnL.StringFixed(2), r.Equity().StringFixed(2), r.SkippedSteps)
}

// SortByPnL orders results by realized PnL, best first. Ties keep input order.
func SortByPnL(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RealizedPnL.GreaterThan(results[j].RealizedPnL)
	})
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) println(args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintln(e.w, strings.TrimSuffix(fmt.Sprint(args...), "\n"))
}
