package backtest

import (
	"log/slog"

	"papertrader/internal/ledger"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

type options struct {
	sink       model.TradeSink
	log        *slog.Logger
	metrics    *metrics.Metrics
	runID      string
	ledgerOpts []ledger.Option
}

// Option configures a Driver or Stepper.
type Option func(*options)

// WithSink forwards every executed trade (and the final snapshot, if the
// sink implements model.SnapshotSink) to sink.
func WithSink(sink model.TradeSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger sets the structured logger (slog.Default by default).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records Prometheus metrics for the run.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRunID fixes the run ID (a uuid by default).
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithTradeIDs overrides trade ID generation, e.g. for reproducible output.
func WithTradeIDs(fn func() string) Option {
	return func(o *options) { o.ledgerOpts = append(o.ledgerOpts, ledger.WithIDFunc(fn)) }
}

func applyOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}
