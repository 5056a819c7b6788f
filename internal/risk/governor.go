// Package risk evaluates stop-loss and take-profit thresholds against an open
// position, independently of the strategy signal.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/config"
	"papertrader/internal/model"
)

// Reason is why a forced exit was triggered.
type Reason string

const (
	StopLoss   Reason = "STOP_LOSS"
	TakeProfit Reason = "TAKE_PROFIT"
)

func (r Reason) String() string { return string(r) }

// PriceMode selects which bar prices the thresholds are evaluated against.
type PriceMode int

const (
	// PriceClose evaluates both legs on the bar close.
	PriceClose PriceMode = iota
	// PriceIntrabar evaluates stop-loss on the bar low and take-profit on the
	// bar high. A gapped bar can breach both.
	PriceIntrabar
)

func (m PriceMode) String() string {
	switch m {
	case PriceIntrabar:
		return "intrabar"
	default:
		return "close"
	}
}

// ParsePriceMode parses "close" or "intrabar".
func ParsePriceMode(s string) (PriceMode, error) {
	switch s {
	case "", "close":
		return PriceClose, nil
	case "intrabar":
		return PriceIntrabar, nil
	}
	return PriceClose, config.Invalid("risk.price_mode", "unknown mode %q (want close|intrabar)", s)
}

// ForcedExit instructs the driver to close the position at Price.
type ForcedExit struct {
	Reason Reason
	// Price is the execution price: the bar close.
	Price decimal.Decimal
	// Move is the fractional drawdown (STOP_LOSS) or gain (TAKE_PROFIT) that
	// breached the threshold.
	Move decimal.Decimal
}

func (f ForcedExit) String() string {
	return fmt.Sprintf("%s @ %s (%s%%)", f.Reason, f.Price, f.Move.Mul(decimal.NewFromInt(100)).StringFixed(2))
}

// Governor holds the stop-loss / take-profit thresholds as fractions of the
// entry price. A zero threshold disables that leg.
type Governor struct {
	StopLoss   float64
	TakeProfit float64
	Mode       PriceMode
}

// New validates thresholds in [0,1] and returns a Governor.
func New(stopLoss, takeProfit float64, mode PriceMode) (Governor, error) {
	g := Governor{StopLoss: stopLoss, TakeProfit: takeProfit, Mode: mode}
	return g, g.Validate()
}

// Validate checks both thresholds are in [0,1].
func (g Governor) Validate() error {
	if g.StopLoss < 0 || g.StopLoss > 1 {
		return config.Invalid("risk.stop_loss_pct", "must be in [0,1], got %g", g.StopLoss)
	}
	if g.TakeProfit < 0 || g.TakeProfit > 1 {
		return config.Invalid("risk.take_profit_pct", "must be in [0,1], got %g", g.TakeProfit)
	}
	return nil
}

// Enabled reports whether any leg is active.
func (g Governor) Enabled() bool { return g.StopLoss > 0 || g.TakeProfit > 0 }

// Check returns a forced exit if bar breaches a threshold for pos, or nil.
// A nil position never triggers. When both legs breach, STOP_LOSS wins.
func (g Governor) Check(pos *model.Position, bar model.Bar) *ForcedExit {
	if pos == nil || pos.Qty <= 0 || !pos.AvgPrice.IsPositive() {
		return nil
	}

	closePx := decimal.NewFromFloat(bar.Close)
	lowPx, highPx := closePx, closePx
	if g.Mode == PriceIntrabar {
		lowPx = decimal.NewFromFloat(bar.Low)
		highPx = decimal.NewFromFloat(bar.High)
	}

	avg := pos.AvgPrice

	if g.StopLoss > 0 {
		drawdown := avg.Sub(lowPx).Div(avg)
		if drawdown.GreaterThanOrEqual(decimal.NewFromFloat(g.StopLoss)) {
			return &ForcedExit{Reason: StopLoss, Price: closePx, Move: drawdown}
		}
	}
	if g.TakeProfit > 0 {
		gain := highPx.Sub(avg).Div(avg)
		if gain.GreaterThanOrEqual(decimal.NewFromFloat(g.TakeProfit)) {
			return &ForcedExit{Reason: TakeProfit, Price: closePx, Move: gain}
		}
	}
	return nil
}
