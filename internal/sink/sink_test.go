package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
	"papertrader/internal/notification"
)

var ts = time.Date(2024, 5, 6, 4, 0, 0, 0, time.UTC)

func trades() []model.Trade {
	pnl := decimal.RequireFromString("35")
	return []model.Trade{
		{ID: "1", Symbol: "INFY", Side: model.SideBuy, Price: decimal.NewFromInt(12), Qty: 10, TS: ts, Reason: model.ReasonSignal},
		{ID: "2", Symbol: "INFY", Side: model.SideSell, Price: decimal.RequireFromString("15.5"), Qty: 10, TS: ts.Add(time.Hour), PnL: &pnl, Reason: "TAKE_PROFIT"},
	}
}

func TestCSVWritesRowsInOrder(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewCSV(&buf)
	require.NoError(t, err)

	for _, tr := range trades() {
		require.NoError(t, s.Record(context.Background(), tr))
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"2024-05-06T04:00:00Z", "INFY", "BUY", "12", "10", "", "SIGNAL"}, rows[1])
	assert.Equal(t, []string{"2024-05-06T05:00:00Z", "INFY", "SELL", "15.5", "10", "35.00", "TAKE_PROFIT"}, rows[2])
}

func TestOpenCSVAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.csv")

	for i := 0; i < 2; i++ {
		s, err := OpenCSV(path)
		require.NoError(t, err)
		require.NoError(t, s.Record(context.Background(), trades()[i]))
		require.NoError(t, s.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "BUY", rows[1][2])
	assert.Equal(t, "SELL", rows[2][2])
}

type failSink struct{ err error }

func (f failSink) Record(context.Context, model.Trade) error { return f.err }

func TestMultiStopsOnFirstError(t *testing.T) {
	boom := errors.New("disk full")
	a, c := NewMemory(), NewMemory()

	err := Multi{a, failSink{boom}, c}.Record(context.Background(), trades()[0])
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Trades(), 1)
	assert.Empty(t, c.Trades())
}

func TestMultiSnapshot(t *testing.T) {
	a := NewMemory()
	m := Multi{a, failSink{}}
	require.NoError(t, m.RecordSnapshot(context.Background(), model.RunSnapshot{RunID: "r1"}))
	require.Len(t, a.Snapshots(), 1)
	assert.Equal(t, "r1", a.Snapshots()[0].RunID)
}

type captured struct{ alerts []notification.Alert }

func (c *captured) Send(_ context.Context, a notification.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func TestNotifyingAlertsOnForcedExitOnly(t *testing.T) {
	mem := NewMemory()
	n := &captured{}
	s := &Notifying{Next: mem, Notifier: n}

	for _, tr := range trades() {
		require.NoError(t, s.Record(context.Background(), tr))
	}
	require.NoError(t, s.RecordSnapshot(context.Background(), model.RunSnapshot{Strategy: "sma_crossover"}))

	assert.Len(t, mem.Trades(), 2)
	assert.Len(t, mem.Snapshots(), 1)
	require.Len(t, n.alerts, 2)
	assert.Equal(t, notification.AlertWarning, n.alerts[0].Level)
	assert.Contains(t, n.alerts[1].Title, "complete")
}
