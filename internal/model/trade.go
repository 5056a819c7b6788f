package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ReasonSignal marks trades driven by a strategy signal. Forced exits carry
// the risk reason instead (STOP_LOSS, TAKE_PROFIT).
const ReasonSignal = "SIGNAL"

// Trade is an immutable record of one ledger execution.
type Trade struct {
	ID     string           `json:"id"`
	Symbol string           `json:"symbol"`
	Side   Side             `json:"side"`
	Price  decimal.Decimal  `json:"price"`
	Qty    int64            `json:"qty"`
	TS     time.Time        `json:"ts"`
	PnL    *decimal.Decimal `json:"pnl"`              // nil for BUY
	Reason string           `json:"reason,omitempty"` // SIGNAL, STOP_LOSS, TAKE_PROFIT
}

// Notional returns price * qty.
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Qty))
}

// PnLOrZero returns the realized PnL, or zero for BUY trades.
func (t *Trade) PnLOrZero() decimal.Decimal {
	if t.PnL == nil {
		return decimal.Zero
	}
	return *t.PnL
}

// JSON returns the JSON-encoded trade.
func (t *Trade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// RunSnapshot is the end-of-run account state reported to sinks.
type RunSnapshot struct {
	RunID         string          `json:"run_id"`
	Strategy      string          `json:"strategy"`
	Symbol        string          `json:"symbol"`
	Balance       decimal.Decimal `json:"balance"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenPositions []Position      `json:"open_positions"`
	TradeCount    int             `json:"trade_count"`
	SkippedSteps  int             `json:"skipped_steps"`
	TS            time.Time       `json:"ts"`
}
