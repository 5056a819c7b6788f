//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"papertrader/internal/model"
)

func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("papertrader"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Migrate(ctx))
	// idempotent
	require.NoError(t, pool.Migrate(ctx))
	return pool
}

func TestTradeStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := setupTestDB(t)
	s := NewTradeStore(pool, "run-1", "sma_crossover")

	ts := time.Date(2024, 5, 6, 4, 0, 0, 0, time.UTC)
	pnl := decimal.RequireFromString("-15.25")
	buy := model.Trade{ID: "t1", Symbol: "INFY", Side: model.SideBuy, Price: decimal.RequireFromString("10.5"), Qty: 10, TS: ts, Reason: model.ReasonSignal}
	sell := model.Trade{ID: "t2", Symbol: "INFY", Side: model.SideSell, Price: decimal.RequireFromString("8.975"), Qty: 10, TS: ts.Add(time.Hour), PnL: &pnl, Reason: "STOP_LOSS"}

	require.NoError(t, s.Record(ctx, buy))
	require.NoError(t, s.Record(ctx, sell))

	err := s.Record(ctx, buy)
	assert.True(t, errors.Is(err, ErrDuplicateTrade))

	got, err := s.Trades(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].PnL)
	assert.True(t, got[0].Price.Equal(buy.Price))
	require.NotNil(t, got[1].PnL)
	assert.True(t, got[1].PnL.Equal(pnl))
	assert.Equal(t, "STOP_LOSS", got[1].Reason)
	assert.True(t, got[1].TS.Equal(sell.TS))

	snap := model.RunSnapshot{
		RunID: "run-1", Strategy: "sma_crossover", Symbol: "INFY",
		Balance: decimal.RequireFromString("984.75"), RealizedPnL: pnl,
		OpenPositions: []model.Position{},
		TradeCount:    2, TS: ts.Add(2 * time.Hour),
	}
	require.NoError(t, s.RecordSnapshot(ctx, snap))
	snap.TradeCount = 3
	require.NoError(t, s.RecordSnapshot(ctx, snap))

	back, ok, err := s.Snapshot(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, back.TradeCount)
	assert.True(t, back.Balance.Equal(snap.Balance))

	_, ok, err = s.Snapshot(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
