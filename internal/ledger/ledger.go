// Package ledger is the paper-trading account: cash balance, at most one long
// position per symbol, realized PnL and the ordered trade log.
//
// All money arithmetic uses shopspring/decimal so that a buy followed by a
// sell at the same price restores the balance exactly.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

var (
	// ErrInvalidOrder is returned for non-positive prices or quantities.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientFunds is returned when a buy costs more than the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoPosition is returned when selling a symbol with no open position.
	ErrNoPosition = errors.New("no open position")
	// ErrOutOfOrder is returned when a trade timestamp precedes the last trade.
	ErrOutOfOrder = errors.New("trade timestamp before previous trade")
)

// Ledger holds the simulated account. It is safe for concurrent readers; a
// backtest run has exactly one writer.
type Ledger struct {
	mu sync.RWMutex

	initial   decimal.Decimal
	balance   decimal.Decimal
	realized  decimal.Decimal
	positions map[string]*model.Position
	trades    []model.Trade
	lastTS    time.Time

	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDFunc overrides trade ID generation (uuid v4 by default).
func WithIDFunc(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates a ledger funded with initialBalance.
func New(initialBalance decimal.Decimal, opts ...Option) (*Ledger, error) {
	if initialBalance.IsNegative() {
		return nil, fmt.Errorf("ledger: initial balance %s is negative", initialBalance)
	}
	l := &Ledger{
		initial:   initialBalance,
		balance:   initialBalance,
		positions: make(map[string]*model.Position),
		trades:    make([]model.Trade, 0, 64),
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Buy debits price*qty and opens or adds to the symbol's position at the
// quantity-weighted average price. The ledger is unchanged on error.
func (l *Ledger) Buy(symbol string, price decimal.Decimal, qty int64, ts time.Time) (model.Trade, error) {
	return l.BuyWithReason(symbol, price, qty, ts, model.ReasonSignal)
}

// BuyWithReason is Buy with an explicit trade reason.
func (l *Ledger) BuyWithReason(symbol string, price decimal.Decimal, qty int64, ts time.Time, reason string) (model.Trade, error) {
	if !price.IsPositive() || qty <= 0 {
		return model.Trade{}, fmt.Errorf("%w: buy %s %d @ %s", ErrInvalidOrder, symbol, qty, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOrder(ts); err != nil {
		return model.Trade{}, err
	}

	q := decimal.NewFromInt(qty)
	cost := price.Mul(q)
	if cost.GreaterThan(l.balance) {
		return model.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), l.balance.StringFixed(2))
	}

	l.balance = l.balance.Sub(cost)

	pos, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &model.Position{Symbol: symbol, Qty: qty, AvgPrice: price}
	} else {
		// Weighted average price
		total := pos.CostBasis().Add(cost)
		pos.Qty += qty
		pos.AvgPrice = total.Div(decimal.NewFromInt(pos.Qty))
	}

	return l.append(model.Trade{
		Symbol: symbol,
		Side:   model.SideBuy,
		Price:  price,
		Qty:    qty,
		TS:     ts,
		Reason: reason,
	}), nil
}

// Sell closes the entire position in symbol at price, credits price*qty and
// returns the trade with PnL = (price - avg) * qty.
func (l *Ledger) Sell(symbol string, price decimal.Decimal, ts time.Time) (model.Trade, error) {
	return l.SellWithReason(symbol, price, ts, model.ReasonSignal)
}

// SellWithReason is Sell with an explicit trade reason, e.g. STOP_LOSS.
func (l *Ledger) SellWithReason(symbol string, price decimal.Decimal, ts time.Time, reason string) (model.Trade, error) {
	if !price.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: sell %s @ %s", ErrInvalidOrder, symbol, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if err := l.checkOrder(ts); err != nil {
		return model.Trade{}, err
	}

	pnl := pos.UnrealizedPnL(price)
	l.balance = l.balance.Add(price.Mul(decimal.NewFromInt(pos.Qty)))
	l.realized = l.realized.Add(pnl)
	delete(l.positions, symbol)

	return l.append(model.Trade{
		Symbol: symbol,
		Side:   model.SideSell,
		Price:  price,
		Qty:    pos.Qty,
		TS:     ts,
		PnL:    &pnl,
		Reason: reason,
	}), nil
}

func (l *Ledger) checkOrder(ts time.Time) error {
	if ts.Before(l.lastTS) {
		return fmt.Errorf("%w: %s < %s", ErrOutOfOrder, ts.Format(time.RFC3339), l.lastTS.Format(time.RFC3339))
	}
	return nil
}

// append stamps the ID, stores the trade and returns it. Caller holds mu.
func (l *Ledger) append(t model.Trade) model.Trade {
	t.ID = l.newID()
	l.trades = append(l.trades, t)
	l.lastTS = t.TS
	return t
}

// Balance returns the cash balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// InitialBalance returns the balance the ledger was funded with.
func (l *Ledger) InitialBalance() decimal.Decimal { return l.initial }

// RealizedPnL returns the sum of PnL over all sells.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

// Position returns a copy of the open position in symbol.
func (l *Ledger) Position(symbol string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []model.Position {
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the trade log in execution order.
func (l *Ledger) Trades() []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.Trade, len(l.trades))
	copy(cp, l.trades)
	return cp
}

// Equity returns balance plus open positions marked at prices. Positions
// without a price are marked at their average entry price.
func (l *Ledger) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	eq := l.balance
	for sym, p := range l.positions {
		mark, ok := prices[sym]
		if !ok {
			mark = p.AvgPrice
		}
		eq = eq.Add(mark.Mul(decimal.NewFromInt(p.Qty)))
	}
	return eq
}

// Snapshot is a point-in-time copy of the ledger state.
type Snapshot struct {
	Balance     decimal.Decimal  `json:"balance"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	Positions   []model.Position `json:"positions"`
	TradeCount  int              `json:"trade_count"`
}

// Snapshot returns the current ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Balance:     l.balance,
		RealizedPnL: l.realized,
		Positions:   l.positionsLocked(),
		TradeCount:  len(l.trades),
	}
}
