package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	bars    []marketdata.Bar
	trade   *marketdata.Trade
	err     error
	lastReq marketdata.GetBarsRequest
}

func (f *fakeClient) GetBars(_ string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.lastReq = req
	return f.bars, f.err
}

func (f *fakeClient) GetLatestTrade(string, marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return f.trade, f.err
}

func TestTimeFrame(t *testing.T) {
	tests := []struct {
		in   string
		want marketdata.TimeFrame
	}{
		{"1m", marketdata.NewTimeFrame(1, marketdata.Min)},
		{"15m", marketdata.NewTimeFrame(15, marketdata.Min)},
		{"1h", marketdata.NewTimeFrame(1, marketdata.Hour)},
		{"1d", marketdata.NewTimeFrame(1, marketdata.Day)},
	}
	for _, tt := range tests {
		got, err := TimeFrame(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := TimeFrame("bogus")
	assert.Error(t, err)
}

func TestFetchSortsAndConverts(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	fc := &fakeClient{bars: []marketdata.Bar{
		{Timestamp: t0.AddDate(0, 0, 1), Open: 2, High: 2, Low: 2, Close: 2, Volume: 20},
		{Timestamp: t0, Open: 1, High: 1.5, Low: 0.5, Close: 1, Volume: 10},
	}}
	now := t0.AddDate(0, 0, 2)
	p := &Provider{client: fc, feed: marketdata.IEX, now: func() time.Time { return now }}

	bars, err := p.Fetch(context.Background(), "AAPL", "1d", 30)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Close)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, 20.0, bars[1].Volume)
	assert.True(t, fc.lastReq.Start.Equal(now.AddDate(0, 0, -30)))
	assert.Equal(t, marketdata.IEX, fc.lastReq.Feed)
}

func TestFetchErrors(t *testing.T) {
	p := &Provider{client: &fakeClient{}, now: time.Now}
	_, err := p.Fetch(context.Background(), "AAPL", "1d", 5)
	assert.Error(t, err, "empty result")

	p.client = &fakeClient{err: errors.New("403")}
	_, err = p.Fetch(context.Background(), "AAPL", "1d", 5)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Fetch(ctx, "AAPL", "1d", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCurrentPrice(t *testing.T) {
	p := &Provider{client: &fakeClient{trade: &marketdata.Trade{Price: 187.25}}, now: time.Now}
	price, err := p.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.25, price)

	p.client = &fakeClient{}
	_, err = p.CurrentPrice(context.Background(), "AAPL")
	assert.Error(t, err)
}
