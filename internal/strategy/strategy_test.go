package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/config"
	"papertrader/internal/model"
)

var t0 = time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

func seriesOf(t *testing.T, closes ...float64) model.Series {
	t.Helper()
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			TS:   t0.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 100,
		}
	}
	s, err := model.NewSeries("TEST", bars)
	require.NoError(t, err)
	return s
}

// runAll feeds every prefix window of s to strat and returns the signals.
func runAll(strat Strategy, s model.Series) []Signal {
	out := make([]Signal, s.Len())
	for i := 0; i < s.Len(); i++ {
		out[i] = strat.OnBar(s.Window(i))
	}
	return out
}

func indexesOf(signals []Signal, want Signal) []int {
	var idx []int
	for i, s := range signals {
		if s == want {
			idx = append(idx, i)
		}
	}
	return idx
}

func TestSMACrossover_ShortSeriesAlwaysHold(t *testing.T) {
	cases := []struct{ fast, slow int }{{2, 4}, {3, 10}, {5, 20}}
	for _, tc := range cases {
		strat, err := NewSMACrossover(tc.fast, tc.slow)
		require.NoError(t, err)

		closes := make([]float64, tc.slow-1)
		for i := range closes {
			closes[i] = float64(100 + i*i) // strongly trending, would cross if allowed
		}
		for _, sig := range runAll(strat, seriesOf(t, closes...)) {
			assert.Equal(t, Hold, sig, "fast=%d slow=%d", tc.fast, tc.slow)
		}
	}
}

func TestSMACrossover_SingleUpwardCross(t *testing.T) {
	strat, err := NewSMACrossover(2, 4)
	require.NoError(t, err)

	signals := runAll(strat, seriesOf(t, 1, 2, 3, 4, 5, 6, 5))

	assert.Len(t, indexesOf(signals, Buy), 1)
	assert.Empty(t, indexesOf(signals, Sell))
}

func TestSMACrossover_UpswingThenDownswing(t *testing.T) {
	strat, err := NewSMACrossover(2, 4)
	require.NoError(t, err)

	signals := runAll(strat, seriesOf(t, 10, 10, 10, 12, 14, 16, 14, 12, 10, 8))

	assert.Equal(t, []int{3}, indexesOf(signals, Buy))
	assert.Equal(t, []int{7}, indexesOf(signals, Sell))
}

func TestSMACrossover_FlatRegionNoSpuriousSignal(t *testing.T) {
	strat, err := NewSMACrossover(2, 4)
	require.NoError(t, err)

	// fast-slow: 0 at i=3, + from i=4, 0 for i=7..9, + again at i=10
	signals := runAll(strat, seriesOf(t, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 3))

	assert.Equal(t, []int{4}, indexesOf(signals, Buy))
	assert.Empty(t, indexesOf(signals, Sell))
}

func TestSMACrossover_LongFlatStretchKeepsSide(t *testing.T) {
	strat, err := NewSMACrossover(2, 4)
	require.NoError(t, err)

	var closes []float64
	for i := 1; i <= 20; i++ {
		closes = append(closes, float64(i))
	}
	for range 3000 {
		closes = append(closes, 20)
	}
	closes = append(closes, 21, 22)

	signals := runAll(strat, seriesOf(t, closes...))
	assert.Equal(t, []int{3}, indexesOf(signals, Buy))
	assert.Empty(t, indexesOf(signals, Sell))
}

func TestSMACrossover_PreviousSignMatchesRecomputedSpreads(t *testing.T) {
	strat, err := NewSMACrossover(3, 7)
	require.NoError(t, err)

	// walk with flat runs
	closes := []float64{100}
	x := uint32(7)
	for len(closes) < 400 {
		x = x*1664525 + 1013904223
		last := closes[len(closes)-1]
		switch step := x >> 29; {
		case step < 3:
			for range int(step) + 4 {
				closes = append(closes, last)
			}
		case step < 5:
			closes = append(closes, last+0.1*float64(step))
		default:
			closes = append(closes, last-0.1*float64(step-4))
		}
	}
	s := seriesOf(t, closes...)

	for i := 0; i < s.Len(); i++ {
		w := s.Window(i)
		want := 0
		for n := w.Len() - 1; n > 0; n-- {
			sg, ok := strat.spread(w.Prefix(n))
			if !ok || sg != 0 {
				if ok {
					want = sg
				}
				break
			}
		}
		require.Equal(t, want, strat.previousSign(w), "bar %d", i)
	}
}

func TestSMACrossover_StatelessAcrossCalls(t *testing.T) {
	s := seriesOf(t, 10, 10, 10, 12, 14, 16, 14, 12, 10, 8)

	a, err := NewSMACrossover(2, 4)
	require.NoError(t, err)
	b, err := NewSMACrossover(2, 4)
	require.NoError(t, err)

	// Warm a up with unrelated windows; b sees only the target window.
	runAll(a, s)
	assert.Equal(t, b.OnBar(s.Window(3)), a.OnBar(s.Window(3)))
	assert.Equal(t, b.OnBar(s.Window(7)), a.OnBar(s.Window(7)))
	assert.Equal(t, a.OnBar(s.Window(7)), a.OnBar(s.Window(7)))
}

func TestSMACrossover_HistoryIsAppendOnlyCopy(t *testing.T) {
	strat, err := NewSMACrossover(2, 4)
	require.NoError(t, err)
	s := seriesOf(t, 10, 10, 10, 12, 14)

	signals := runAll(strat, s)
	hist := strat.History()
	require.Equal(t, signals, hist)

	hist[0] = Sell
	assert.Equal(t, Hold, strat.History()[0], "History must return a copy")

	counts := Counts(strat.History())
	assert.Equal(t, 1, counts[Buy])
	assert.Equal(t, 4, counts[Hold])
}

func TestSMACrossover_InvalidParams(t *testing.T) {
	cases := []struct{ fast, slow int }{{0, 4}, {4, 4}, {5, 2}}
	for _, tc := range cases {
		_, err := NewSMACrossover(tc.fast, tc.slow)
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrInvalid), "fast=%d slow=%d: %v", tc.fast, tc.slow, err)
	}
}

func TestSMACrossover_Lookback(t *testing.T) {
	strat, err := NewSMACrossover(5, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, strat.RequiredLookback())

	withRSI, err := newSMACrossover(Params{"fast_period": 2, "slow_period": 4, "rsi_period": 14})
	require.NoError(t, err)
	assert.Equal(t, 15, withRSI.RequiredLookback())
}

func TestRSIThreshold_BuyOnOversoldRecovery(t *testing.T) {
	strat, err := NewRSIThreshold(3, 30, 70)
	require.NoError(t, err)

	// RSI(3): 0 while falling, 33.3 on the first up-tick, 55.6 on the next.
	signals := runAll(strat, seriesOf(t, 10, 9, 8, 7, 6, 7, 8))

	assert.Equal(t, []int{5}, indexesOf(signals, Buy))
	assert.Empty(t, indexesOf(signals, Sell))
}

func TestRSIThreshold_SellOnOverboughtReversal(t *testing.T) {
	strat, err := NewRSIThreshold(3, 30, 70)
	require.NoError(t, err)

	signals := runAll(strat, seriesOf(t, 6, 7, 8, 9, 10, 9, 8))

	assert.Equal(t, []int{5}, indexesOf(signals, Sell))
	assert.Empty(t, indexesOf(signals, Buy))
}

func TestRSIThreshold_InvalidParams(t *testing.T) {
	_, err := NewRSIThreshold(1, 30, 70)
	assert.ErrorIs(t, err, config.ErrInvalid)
	_, err = NewRSIThreshold(14, 70, 30)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
