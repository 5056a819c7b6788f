package ledger

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newLedger(t *testing.T, balance string) *Ledger {
	t.Helper()
	n := 0
	l, err := New(d(balance), WithIDFunc(func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}))
	require.NoError(t, err)
	return l
}

func TestBuyOpensPosition(t *testing.T) {
	l := newLedger(t, "1000")

	tr, err := l.Buy("INFY", d("12"), 10, t0)
	require.NoError(t, err)

	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, model.SideBuy, tr.Side)
	assert.Nil(t, tr.PnL)
	assert.Equal(t, model.ReasonSignal, tr.Reason)
	assert.True(t, d("880").Equal(l.Balance()), "balance %s", l.Balance())

	pos, ok := l.Position("INFY")
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Qty)
	assert.True(t, d("12").Equal(pos.AvgPrice))
}

func TestBuyMergesAtWeightedAverage(t *testing.T) {
	l := newLedger(t, "10000")

	_, err := l.Buy("TCS", d("100"), 10, t0)
	require.NoError(t, err)
	_, err = l.Buy("TCS", d("130"), 20, t0.Add(time.Minute))
	require.NoError(t, err)

	pos, ok := l.Position("TCS")
	require.True(t, ok)
	assert.Equal(t, int64(30), pos.Qty)
	assert.True(t, d("120").Equal(pos.AvgPrice), "avg %s", pos.AvgPrice)
	assert.Len(t, l.Positions(), 1)
}

func TestBuyInsufficientFundsLeavesStateUntouched(t *testing.T) {
	l := newLedger(t, "100")

	_, err := l.Buy("INFY", d("11"), 10, t0)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.True(t, d("100").Equal(l.Balance()))
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Trades())
}

func TestBuyExactBalanceAllowed(t *testing.T) {
	l := newLedger(t, "100")
	_, err := l.Buy("INFY", d("10"), 10, t0)
	require.NoError(t, err)
	assert.True(t, l.Balance().IsZero())
}

func TestInvalidOrders(t *testing.T) {
	l := newLedger(t, "100")

	_, err := l.Buy("INFY", d("0"), 1, t0)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = l.Buy("INFY", d("10"), 0, t0)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = l.Sell("INFY", d("-1"), t0)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestSellWithoutPosition(t *testing.T) {
	l := newLedger(t, "100")
	_, err := l.Sell("INFY", d("10"), t0)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestSellClosesAndRealizes(t *testing.T) {
	l := newLedger(t, "1000")

	_, err := l.Buy("INFY", d("12"), 10, t0)
	require.NoError(t, err)
	tr, err := l.SellWithReason("INFY", d("15.5"), t0.Add(time.Minute), "TAKE_PROFIT")
	require.NoError(t, err)

	require.NotNil(t, tr.PnL)
	assert.True(t, d("35").Equal(*tr.PnL), "pnl %s", tr.PnL)
	assert.Equal(t, int64(10), tr.Qty)
	assert.Equal(t, "TAKE_PROFIT", tr.Reason)
	assert.True(t, d("1035").Equal(l.Balance()))
	assert.True(t, d("35").Equal(l.RealizedPnL()))

	_, ok := l.Position("INFY")
	assert.False(t, ok)

	_, err = l.Sell("INFY", d("15.5"), t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestRoundTripRestoresBalance(t *testing.T) {
	l := newLedger(t, "1000")

	_, err := l.Buy("INFY", d("33.33"), 7, t0)
	require.NoError(t, err)
	tr, err := l.Sell("INFY", d("33.33"), t0)
	require.NoError(t, err)

	assert.True(t, tr.PnL.IsZero())
	assert.True(t, d("1000").Equal(l.Balance()), "balance %s", l.Balance())
}

func TestOutOfOrderRejected(t *testing.T) {
	l := newLedger(t, "1000")

	_, err := l.Buy("INFY", d("10"), 1, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = l.Sell("INFY", d("10"), t0)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, ok := l.Position("INFY")
	assert.True(t, ok, "position must survive a rejected sell")
}

func TestEquityAndSnapshot(t *testing.T) {
	l := newLedger(t, "1000")

	_, err := l.Buy("B", d("10"), 10, t0)
	require.NoError(t, err)
	_, err = l.Buy("A", d("20"), 5, t0)
	require.NoError(t, err)

	eq := l.Equity(map[string]decimal.Decimal{"A": d("22")})
	// 800 cash + 5*22 + 10*10 (B marked at entry)
	assert.True(t, d("1010").Equal(eq), "equity %s", eq)

	snap := l.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "A", snap.Positions[0].Symbol)
	assert.Equal(t, "B", snap.Positions[1].Symbol)
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"A", "B", "C"}
	l := newLedger(t, "5000")
	ts := t0

	for i := 0; i < 2000; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		price := decimal.NewFromFloat(1 + rng.Float64()*200).Round(2)
		ts = ts.Add(time.Duration(rng.Intn(3)) * time.Minute)

		if rng.Intn(2) == 0 {
			_, err := l.Buy(sym, price, int64(1+rng.Intn(20)), ts)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			}
		} else {
			_, err := l.Sell(sym, price, ts)
			if err != nil {
				require.ErrorIs(t, err, ErrNoPosition)
			}
		}

		require.False(t, l.Balance().IsNegative(), "step %d: balance %s", i, l.Balance())
		seen := map[string]bool{}
		for _, p := range l.Positions() {
			require.False(t, seen[p.Symbol], "duplicate position %s", p.Symbol)
			seen[p.Symbol] = true
			require.Positive(t, p.Qty)
		}
	}

	trades := l.Trades()
	for i := 1; i < len(trades); i++ {
		require.False(t, trades[i].TS.Before(trades[i-1].TS))
	}
}
