package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"papertrader/internal/markethours"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/store/sqlite"
)

// Options configures a caching provider.
type Options struct {
	Source       string // upstream name recorded in fetch metadata
	MaxAge       time.Duration
	MarketMinAge time.Duration
	Force        bool
	Session      *markethours.Session // nil treats the market as closed
	Metrics      *metrics.Metrics
}

// Provider serves bars from the SQLite cache and refreshes them from
// upstream per Decide. When the refresh fails, cached bars are returned.
type Provider struct {
	upstream model.MarketDataProvider
	store    *sqlite.BarStore
	opts     Options
	now      func() time.Time
}

var _ model.MarketDataProvider = (*Provider)(nil)

// NewProvider wraps upstream with the bar cache.
func NewProvider(upstream model.MarketDataProvider, store *sqlite.BarStore, opts Options) *Provider {
	if opts.MaxAge == 0 {
		opts.MaxAge = time.Hour
	}
	if opts.MarketMinAge == 0 {
		opts.MarketMinAge = 6 * time.Minute
	}
	return &Provider{upstream: upstream, store: store, opts: opts, now: time.Now}
}

// Decide evaluates the policy for a window of symbol/interval starting at
// since against stored metadata. A zero since skips the coverage rule.
func (p *Provider) Decide(ctx context.Context, symbol, interval string, since time.Time) (Decision, error) {
	meta, _, err := p.store.FetchMeta(ctx, symbol, interval)
	if err != nil {
		return Decision{}, err
	}
	now := p.now()
	open := false
	if p.opts.Session != nil {
		open = p.opts.Session.IsOpen(now)
	}
	return Decide(FreshnessInput{
		Force:        p.opts.Force,
		LastFetch:    meta.LastFetch,
		Now:          now,
		MaxAge:       p.opts.MaxAge,
		MarketOpen:   open,
		MarketMinAge: p.opts.MarketMinAge,
		Since:        since,
		CoveredFrom:  meta.CoveredFrom,
	}), nil
}

// Fetch returns bars for the window, refreshing the cache when needed.
func (p *Provider) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	since := p.now().AddDate(0, 0, -lookbackDays)
	d, err := p.Decide(ctx, symbol, interval, since)
	if err != nil {
		return nil, err
	}

	if !d.Refresh {
		bars, err := p.store.LoadBars(ctx, symbol, interval, since)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			log.Printf("[cache] %s %s: using cached data: %s", symbol, interval, d.Reason)
			p.opts.Metrics.ObserveCache(DecisionCache)
			return bars, nil
		}
		d = Decision{Refresh: true, Reason: "cache holds no bars for the window"}
	}

	log.Printf("[cache] %s %s: refreshing from %s: %s", symbol, interval, p.opts.Source, d.Reason)
	start := time.Now()
	bars, ferr := p.upstream.Fetch(ctx, symbol, interval, lookbackDays)
	p.opts.Metrics.ObserveFetch(p.opts.Source, time.Since(start), ferr)
	if ferr == nil {
		p.opts.Metrics.ObserveCache(DecisionRefresh)
		if err := p.store.SaveBars(ctx, symbol, interval, bars); err != nil {
			log.Printf("[cache] save %s %s: %v", symbol, interval, err)
			return bars, nil
		}
		meta := sqlite.FetchMeta{
			Symbol:      symbol,
			Interval:    interval,
			Source:      p.opts.Source,
			LastFetch:   p.now(),
			BarCount:    len(bars),
			CoveredFrom: p.coveredFrom(ctx, symbol, interval, since),
		}
		if err := p.store.SetFetchMeta(ctx, meta); err != nil {
			log.Printf("[cache] fetch meta %s %s: %v", symbol, interval, err)
		}
		return bars, nil
	}

	cached, err := p.store.LoadBars(ctx, symbol, interval, since)
	if err != nil || len(cached) == 0 {
		return nil, fmt.Errorf("refresh %s %s from %s: %w (no cached data)", symbol, interval, p.opts.Source, ferr)
	}
	log.Printf("[cache] %s %s: refresh failed (%v), using %d cached bars", symbol, interval, ferr, len(cached))
	p.opts.Metrics.ObserveCache(DecisionStaleFallback)
	return cached, nil
}

// coveredFrom keeps an older covered start when the previous fetch reaches
// into the new window, so the two windows join without a gap.
func (p *Provider) coveredFrom(ctx context.Context, symbol, interval string, since time.Time) time.Time {
	prev, ok, err := p.store.FetchMeta(ctx, symbol, interval)
	if err != nil || !ok || prev.CoveredFrom.IsZero() {
		return since
	}
	if prev.CoveredFrom.Before(since) && !prev.LastFetch.Before(since) {
		return prev.CoveredFrom
	}
	return since
}

// CurrentPrice delegates to upstream.
func (p *Provider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return p.upstream.CurrentPrice(ctx, symbol)
}
