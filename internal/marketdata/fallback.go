package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

// Named pairs a provider with its source name.
type Named struct {
	Name     string
	Provider model.MarketDataProvider
}

// Fallback tries providers in order and returns the first success.
type Fallback struct {
	sources []Named
	metrics *metrics.Metrics
}

var _ model.MarketDataProvider = (*Fallback)(nil)

// NewFallback chains sources, primary first.
func NewFallback(m *metrics.Metrics, sources ...Named) *Fallback {
	return &Fallback{sources: sources, metrics: m}
}

// Sources returns the chained source names.
func (f *Fallback) Sources() []string {
	names := make([]string, len(f.sources))
	for i, s := range f.sources {
		names[i] = s.Name
	}
	return names
}

// Fetch returns bars from the first source that succeeds with data.
func (f *Fallback) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	var errs []error
	for i, s := range f.sources {
		log.Printf("[data] [source %d/%d] trying %s for %s %s", i+1, len(f.sources), s.Name, symbol, interval)
		start := time.Now()
		bars, err := s.Provider.Fetch(ctx, symbol, interval, lookbackDays)
		if err == nil && len(bars) == 0 {
			err = fmt.Errorf("no bars")
		}
		f.metrics.ObserveFetch(s.Name, time.Since(start), err)
		if err == nil {
			log.Printf("[data] %s returned %d bars (%s to %s)", s.Name, len(bars),
				bars[0].TS.Format(time.RFC3339), bars[len(bars)-1].TS.Format(time.RFC3339))
			return bars, nil
		}
		log.Printf("[data] %s failed: %v", s.Name, err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all data sources failed: %w", errors.Join(errs...))
}

// CurrentPrice returns the first available price.
func (f *Fallback) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var errs []error
	for _, s := range f.sources {
		p, err := s.Provider.CurrentPrice(ctx, symbol)
		if err == nil {
			return p, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return 0, fmt.Errorf("no live price for %s: %w", symbol, errors.Join(errs...))
}

// PriceSource yields live prices.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Quoted serves bars from Provider and prices from Quotes, falling back to
// Provider when Quotes fails.
type Quoted struct {
	model.MarketDataProvider
	Quotes PriceSource
}

// CurrentPrice prefers the quote feed.
func (q Quoted) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p, err := q.Quotes.CurrentPrice(ctx, symbol)
	if err == nil {
		return p, nil
	}
	log.Printf("[data] quote feed: %v; using provider price", err)
	return q.MarketDataProvider.CurrentPrice(ctx, symbol)
}
