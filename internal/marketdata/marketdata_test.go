package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/config"
	"papertrader/internal/markethours"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

const sampleCSV = `timestamp,open,high,low,close,volume
2024-05-06 09:20:00,101,103,100,102,50
2024-05-06 09:15:00,100,101,99,100.5,100
2024-05-06 09:25:00,102,104,101,103,25
2024-05-06 09:30:00,103,103,98,99,10
2024-05-07 09:15:00,99,100,97,98,5
`

func TestReadBarsCSVSortsAndParses(t *testing.T) {
	bars, err := ReadBarsCSV(strings.NewReader(sampleCSV), "NIFTY", markethours.IST)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, "NIFTY", bars[0].Symbol)
	assert.True(t, bars[0].TS.Equal(time.Date(2024, 5, 6, 3, 45, 0, 0, time.UTC)))
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 100.0, bars[0].Volume)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].TS.After(bars[i-1].TS))
	}
}

func TestReadBarsCSVSymbolColumnAndErrors(t *testing.T) {
	in := "date,symbol,open,high,low,close\n2024-01-02,INFY,1,1,1,1\n2024-01-02,TCS,2,2,2,2\n2024-01-03T00:00:00Z,INFY,3,3,3,3\n"
	bars, err := ReadBarsCSV(strings.NewReader(in), "INFY", time.UTC)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 3.0, bars[1].Close)

	_, err = ReadBarsCSV(strings.NewReader("timestamp,open,high,low\n"), "X", time.UTC)
	assert.ErrorContains(t, err, "close")

	_, err = ReadBarsCSV(strings.NewReader("open,high,low,close\n"), "X", time.UTC)
	assert.ErrorContains(t, err, "timestamp")

	_, err = ReadBarsCSV(strings.NewReader("timestamp,open,high,low,close\nnot-a-date,1,1,1,1\n"), "X", time.UTC)
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadBarsCSV(strings.NewReader("timestamp,open,high,low,close\n2024-01-02,x,1,1,1\n"), "X", time.UTC)
	assert.ErrorContains(t, err, "open")
}

func TestResample(t *testing.T) {
	bars, err := ReadBarsCSV(strings.NewReader(sampleCSV), "NIFTY", markethours.IST)
	require.NoError(t, err)

	ten := Resample(bars, 10*time.Minute, markethours.IST)
	require.Len(t, ten, 4)
	// 09:10 bucket holds 09:15 only
	assert.True(t, ten[0].TS.Equal(time.Date(2024, 5, 6, 3, 40, 0, 0, time.UTC)))
	// 09:20 + 09:25
	assert.Equal(t, 101.0, ten[1].Open)
	assert.Equal(t, 104.0, ten[1].High)
	assert.Equal(t, 100.0, ten[1].Low)
	assert.Equal(t, 103.0, ten[1].Close)
	assert.Equal(t, 75.0, ten[1].Volume)

	daily := Resample(bars, 24*time.Hour, markethours.IST)
	require.Len(t, daily, 2)
	assert.True(t, daily[0].TS.Equal(time.Date(2024, 5, 5, 18, 30, 0, 0, time.UTC)), "IST midnight")
	assert.Equal(t, 100.0, daily[0].Open)
	assert.Equal(t, 104.0, daily[0].High)
	assert.Equal(t, 98.0, daily[0].Low)
	assert.Equal(t, 99.0, daily[0].Close)
	assert.Equal(t, 185.0, daily[0].Volume)

	assert.Equal(t, bars, Resample(bars, 0, nil))
}

func TestCSVProviderLookbackFromNewestBar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	p := NewCSVProvider(path, markethours.IST)
	ctx := context.Background()

	all, err := p.Fetch(ctx, "NIFTY", "5m", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	daily, err := p.Fetch(ctx, "NIFTY", "1d", 1)
	require.NoError(t, err)
	assert.Len(t, daily, 2)

	// cutoff is one day before the newest bar (7th 09:15), inclusive
	recent, err := p.Fetch(ctx, "NIFTY", "5m", 1)
	require.NoError(t, err)
	assert.Len(t, recent, 5)
	assert.True(t, recent[0].TS.Equal(time.Date(2024, 5, 6, 3, 45, 0, 0, time.UTC)))

	price, err := p.CurrentPrice(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 98.0, price)

	_, err = NewCSVProvider(filepath.Join(t.TempDir(), "missing.csv"), nil).Fetch(ctx, "NIFTY", "1d", 5)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []model.Bar{{TS: t0}, {TS: t0.Add(time.Second)}, {TS: t0.Add(2 * time.Second)}}

	var got []time.Time
	err := Replay(context.Background(), bars, 0, func(b model.Bar) error {
		got = append(got, b.TS)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// 1s gaps at 100x => ~20ms total
	start := time.Now()
	require.NoError(t, Replay(context.Background(), bars, 100, func(model.Bar) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	stop := errors.New("stop")
	n := 0
	err = Replay(context.Background(), bars, 0, func(model.Bar) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Replay(ctx, bars, 1, func(model.Bar) error { return nil }), context.Canceled)
}

type stubProvider struct {
	bars  []model.Bar
	price float64
	err   error
	calls int
}

func (s *stubProvider) Fetch(context.Context, string, string, int) ([]model.Bar, error) {
	s.calls++
	return s.bars, s.err
}

func (s *stubProvider) CurrentPrice(context.Context, string) (float64, error) {
	return s.price, s.err
}

func TestFallbackOrder(t *testing.T) {
	bar := model.Bar{TS: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 1}
	down := &stubProvider{err: errors.New("timeout")}
	empty := &stubProvider{}
	good := &stubProvider{bars: []model.Bar{bar}, price: 7}
	never := &stubProvider{bars: []model.Bar{bar}}

	reg := prometheus.NewRegistry()
	f := NewFallback(metrics.New(reg), Named{"a", down}, Named{"b", empty}, Named{"c", good}, Named{"d", never})
	assert.Equal(t, []string{"a", "b", "c", "d"}, f.Sources())

	bars, err := f.Fetch(context.Background(), "X", "1d", 5)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 0, never.calls)

	price, err := f.CurrentPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 0.0, price, "empty source reports price 0 without error")

	all := NewFallback(nil, Named{"a", down})
	_, err = all.Fetch(context.Background(), "X", "1d", 5)
	assert.ErrorContains(t, err, "a: timeout")
	_, err = all.CurrentPrice(context.Background(), "X")
	assert.Error(t, err)
}

func TestQuotedPrefersQuoteFeed(t *testing.T) {
	base := &stubProvider{price: 10}
	q := Quoted{MarketDataProvider: base, Quotes: &stubProvider{price: 11}}
	p, err := q.CurrentPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 11.0, p)

	q.Quotes = &stubProvider{err: errors.New("disconnected")}
	p, err = q.CurrentPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 10.0, p)
}

func TestRegistry(t *testing.T) {
	r := BuildDefaultRegistry()
	assert.Equal(t, []string{"alpaca", "angel", "clickhouse", "csv", "sqlite"}, r.Names())
	assert.Error(t, r.Register(Source{Name: "csv", Factory: r.sources["csv"].Factory}))

	cfg := config.Default()
	_, err := r.Build(context.Background(), "yahoo", cfg)
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = r.Build(context.Background(), "alpaca", cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRegistryOpenSkipsUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	cfg := config.Default()
	cfg.Data.Source = "alpaca"
	cfg.Data.Fallback = []string{"csv", "sqlite", "csv"}
	cfg.Data.CSVPath = path
	cfg.Data.CachePath = filepath.Join(dir, "cache.db")

	f, closeAll, err := BuildDefaultRegistry().Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer closeAll()
	assert.Equal(t, []string{"csv", "sqlite"}, f.Sources())

	bars, err := f.Fetch(context.Background(), "NIFTY", "5m", 0)
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	cfg.Data.Source = "alpaca"
	cfg.Data.Fallback = nil
	_, _, err = BuildDefaultRegistry().Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
