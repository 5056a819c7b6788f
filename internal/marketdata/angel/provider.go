package angel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"papertrader/internal/markethours"
	"papertrader/internal/model"
)

// Intervals maps bar intervals to SmartAPI interval names.
var Intervals = map[string]string{
	"1m":  "ONE_MINUTE",
	"3m":  "THREE_MINUTE",
	"5m":  "FIVE_MINUTE",
	"10m": "TEN_MINUTE",
	"15m": "FIFTEEN_MINUTE",
	"30m": "THIRTY_MINUTE",
	"1h":  "ONE_HOUR",
	"1d":  "ONE_DAY",
}

type instrument struct {
	tradingSymbol string
	token         string
}

// Provider implements model.MarketDataProvider over SmartAPI.
type Provider struct {
	client   *Client
	exchange string
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	symbols map[string]instrument
}

var _ model.MarketDataProvider = (*Provider)(nil)

// NewProvider returns a provider for exchange (default NSE).
func NewProvider(client *Client, exchange string) *Provider {
	if exchange == "" {
		exchange = "NSE"
	}
	return &Provider{
		client:   client,
		exchange: exchange,
		loc:      markethours.IST,
		now:      time.Now,
		symbols:  make(map[string]instrument),
	}
}

// resolve finds the symbol token, preferring the -EQ series.
func (p *Provider) resolve(ctx context.Context, symbol string) (instrument, error) {
	p.mu.Lock()
	in, ok := p.symbols[symbol]
	p.mu.Unlock()
	if ok {
		return in, nil
	}

	scrips, err := p.client.SearchScrip(ctx, p.exchange, symbol)
	if err != nil {
		return instrument{}, err
	}
	if len(scrips) == 0 {
		return instrument{}, fmt.Errorf("angel: no %s instrument matches %q", p.exchange, symbol)
	}
	pick := scrips[0]
	for _, s := range scrips {
		if strings.EqualFold(s.TradingSymbol, symbol+"-EQ") || strings.EqualFold(s.TradingSymbol, symbol) {
			pick = s
			break
		}
	}
	in = instrument{tradingSymbol: pick.TradingSymbol, token: pick.SymbolToken}

	p.mu.Lock()
	p.symbols[symbol] = in
	p.mu.Unlock()
	return in, nil
}

// Fetch returns candles of the last lookbackDays.
func (p *Provider) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	name, ok := Intervals[interval]
	if !ok {
		return nil, fmt.Errorf("angel: unsupported interval %q", interval)
	}
	in, err := p.resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// SmartAPI takes exchange-local dates
	to := p.now().In(p.loc)
	candles, err := p.client.GetCandleData(ctx, CandleRequest{
		Exchange:    p.exchange,
		SymbolToken: in.token,
		Interval:    name,
		From:        to.AddDate(0, 0, -lookbackDays),
		To:          to,
	})
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("angel: no %s candles for %s", interval, symbol)
	}

	bars := make([]model.Bar, len(candles))
	for i, c := range candles {
		bars[i] = model.Bar{
			Symbol: symbol,
			TS:     c.TS.UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return bars, nil
}

// CurrentPrice returns the last traded price.
func (p *Provider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	in, err := p.resolve(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return p.client.LTP(ctx, p.exchange, in.tradingSymbol, in.token)
}
