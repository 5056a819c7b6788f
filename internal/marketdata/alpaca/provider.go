// Package alpaca serves bars and last-trade prices from the Alpaca market
// data API.
package alpaca

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"papertrader/internal/model"
)

// Config holds API credentials. Empty values fall back to the SDK's
// APCA_* environment variables.
type Config struct {
	KeyID   string
	Secret  string
	BaseURL string
	Feed    string // iex or sip
}

// dataClient is the subset of *marketdata.Client used here.
type dataClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
}

// Provider implements model.MarketDataProvider for Alpaca.
type Provider struct {
	client dataClient
	feed   marketdata.Feed
	now    func() time.Time
}

var _ model.MarketDataProvider = (*Provider)(nil)

// NewProvider returns an Alpaca market data provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.KeyID,
			APISecret: cfg.Secret,
			BaseURL:   cfg.BaseURL,
			Feed:      marketdata.Feed(cfg.Feed),
		}),
		feed: marketdata.Feed(cfg.Feed),
		now:  time.Now,
	}
}

// TimeFrame maps a bar interval to an Alpaca time frame.
func TimeFrame(interval string) (marketdata.TimeFrame, error) {
	d, err := model.ParseInterval(interval)
	if err != nil {
		return marketdata.TimeFrame{}, err
	}
	switch {
	case d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day), nil
	case d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour), nil
	default:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min), nil
	}
}

// Fetch returns bars of the last lookbackDays.
func (p *Provider) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	tf, err := TimeFrame(interval)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := p.now()
	raw, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     end.AddDate(0, 0, -lookbackDays),
		End:       end,
		Feed:      p.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("alpaca: no %s bars for %s", interval, symbol)
	}

	bars := make([]model.Bar, len(raw))
	for i, b := range raw {
		bars[i] = model.Bar{
			Symbol: symbol,
			TS:     b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}

// CurrentPrice returns the latest trade price.
func (p *Provider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trade, err := p.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: p.feed})
	if err != nil {
		return 0, fmt.Errorf("alpaca latest trade %s: %w", symbol, err)
	}
	if trade == nil {
		return 0, fmt.Errorf("alpaca: no trade for %s", symbol)
	}
	return trade.Price, nil
}
