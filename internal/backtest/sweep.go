package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"papertrader/internal/model"
	"papertrader/internal/strategy"
)

// Case is one parameter combination of a sweep.
type Case struct {
	Strategy string
	Params   strategy.Params
	Config   Config
	// Sink receives this case's trades. Sinks must not be shared between
	// cases unless they are safe for concurrent use.
	Sink model.TradeSink
}

// Grid builds SMA crossover cases for every fast < slow pair.
func Grid(base Config, fast, slow []int) []Case {
	var cases []Case
	for _, f := range fast {
		for _, s := range slow {
			if f >= s {
				continue
			}
			cases = append(cases, Case{
				Strategy: strategy.SMACrossoverName,
				Params:   strategy.Params{"fast_period": float64(f), "slow_period": float64(s)},
				Config:   base,
			})
		}
	}
	return cases
}

// Sweep runs every case over series with at most concurrency runs in
// flight. Each case gets its own strategy instance, ledger and sink.
// Results are returned in case order. The first failing case cancels the
// rest.
func Sweep(ctx context.Context, reg *strategy.Registry, series model.Series, cases []Case, concurrency int, opts ...Option) ([]*Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*Result, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, c := range cases {
		g.Go(func() error {
			strat, err := reg.Build(c.Strategy, c.Params)
			if err != nil {
				return fmt.Errorf("case %d (%s %s): %w", i, c.Strategy, c.Params, err)
			}
			caseOpts := append(append([]Option{}, opts...), WithSink(c.Sink))
			d, err := New(c.Config, strat, caseOpts...)
			if err != nil {
				return fmt.Errorf("case %d: %w", i, err)
			}
			res, err := d.Run(gctx, series)
			if err != nil {
				return fmt.Errorf("case %d (%s %s): %w", i, c.Strategy, c.Params, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
