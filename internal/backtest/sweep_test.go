package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/sink"
	"papertrader/internal/strategy"
)

func TestGridSkipsInvalidPairs(t *testing.T) {
	cases := Grid(DefaultConfig(), []int{2, 5, 10}, []int{5, 10})
	// (2,5) (2,10) (5,10)
	require.Len(t, cases, 3)
	for _, c := range cases {
		assert.Less(t, c.Params["fast_period"], c.Params["slow_period"])
	}
}

func TestSweepMatchesSequentialRuns(t *testing.T) {
	series := closesSeries(t, 10, 11, 9, 12, 14, 13, 15, 11, 9, 10, 12, 15, 16, 12, 8, 9, 13, 14, 12, 11)
	reg := strategy.BuildDefaultRegistry()
	base := cfg(10000, 5, 0.05, 0.1)

	cases := Grid(base, []int{2, 3, 4}, []int{5, 6, 8})
	sinks := make([]*sink.Memory, len(cases))
	for i := range cases {
		sinks[i] = sink.NewMemory()
		cases[i].Sink = sinks[i]
	}

	results, err := Sweep(context.Background(), reg, series, cases, 4, quiet)
	require.NoError(t, err)
	require.Len(t, results, len(cases))

	for i, c := range cases {
		strat, err := reg.Build(c.Strategy, c.Params)
		require.NoError(t, err)
		drv, err := New(c.Config, strat, quiet)
		require.NoError(t, err)
		want, err := drv.Run(context.Background(), series)
		require.NoError(t, err)

		got := results[i]
		assert.Equal(t, c.Params["fast_period"], got.Params["fast_period"])
		assert.True(t, want.FinalBalance.Equal(got.FinalBalance), "case %d", i)
		assert.Equal(t, len(want.Trades), len(got.Trades), "case %d", i)
		assert.Len(t, sinks[i].Trades(), len(got.Trades))
	}
}

func TestSweepUnknownStrategy(t *testing.T) {
	series := closesSeries(t, 1, 2, 3)
	_, err := Sweep(context.Background(), strategy.BuildDefaultRegistry(), series,
		[]Case{{Strategy: "nope", Config: DefaultConfig()}}, 2, quiet)
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
}
