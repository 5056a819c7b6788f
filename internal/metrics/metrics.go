// Package metrics exposes Prometheus metrics and a health endpoint for the
// backtest and paper-trading binaries.
//
// Every method on *Metrics is nil-safe so the simulation core can run without
// a registry (unit tests, sweeps).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for a trading run.
type Metrics struct {
	BarsTotal     prometheus.Counter
	SignalsTotal  *prometheus.CounterVec // labels: strategy, signal
	TradesTotal   *prometheus.CounterVec // labels: side, reason
	SkippedSteps  prometheus.Counter
	ForcedExits   *prometheus.CounterVec // labels: reason
	Balance       prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	OpenPositions prometheus.Gauge
	Equity        prometheus.Gauge
	RunDuration   prometheus.Histogram
	StepDuration  prometheus.Histogram

	// Sinks
	SinkWriteDur *prometheus.HistogramVec // labels: sink
	SinkErrors   *prometheus.CounterVec   // labels: sink

	// Market data
	FetchDur     *prometheus.HistogramVec // labels: source
	FetchErrors  *prometheus.CounterVec   // labels: source
	CacheLookups *prometheus.CounterVec   // labels: decision=cache|refresh|stale_fallback

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// New creates all metrics and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_bars_total",
			Help: "Bars processed by the driver",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_signals_total",
			Help: "Strategy signals emitted (by strategy and signal)",
		}, []string{"strategy", "signal"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_trades_total",
			Help: "Trades executed by the ledger (by side and reason)",
		}, []string{"side", "reason"}),
		SkippedSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_skipped_steps_total",
			Help: "Buys skipped for insufficient funds",
		}),
		ForcedExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_forced_exits_total",
			Help: "Risk-driven exits (by reason)",
		}, []string{"reason"}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_balance",
			Help: "Current cash balance",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_realized_pnl",
			Help: "Cumulative realized PnL",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_open_positions",
			Help: "Open positions held by the ledger",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_equity",
			Help: "Balance plus open positions marked at the latest price",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "papertrader_run_duration_seconds",
			Help:    "Wall time of a full backtest run",
			Buckets: prometheus.DefBuckets,
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "papertrader_step_duration_seconds",
			Help:    "Driver latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01},
		}),

		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papertrader_sink_write_duration_seconds",
			Help:    "Trade sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_sink_errors_total",
			Help: "Trade sink write failures",
		}, []string{"sink"}),

		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papertrader_fetch_duration_seconds",
			Help:    "Market data fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_fetch_errors_total",
			Help: "Market data fetch failures",
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_cache_lookups_total",
			Help: "Bar cache decisions",
		}, []string{"decision"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_redis_buffered_writes_total",
			Help: "Trades buffered locally while the Redis circuit breaker is open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.TradesTotal,
		m.SkippedSteps,
		m.ForcedExits,
		m.Balance,
		m.RealizedPnL,
		m.OpenPositions,
		m.Equity,
		m.RunDuration,
		m.StepDuration,
		m.SinkWriteDur,
		m.SinkErrors,
		m.FetchDur,
		m.FetchErrors,
		m.CacheLookups,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
	)
	return m
}

func (m *Metrics) ObserveBar(d time.Duration) {
	if m == nil {
		return
	}
	m.BarsTotal.Inc()
	m.StepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSignal(strategy, signal string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(strategy, signal).Inc()
}

func (m *Metrics) ObserveTrade(side, reason string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side, reason).Inc()
}

func (m *Metrics) ObserveSkip() {
	if m == nil {
		return
	}
	m.SkippedSteps.Inc()
}

func (m *Metrics) ObserveForcedExit(reason string) {
	if m == nil {
		return
	}
	m.ForcedExits.WithLabelValues(reason).Inc()
}

// SetAccount updates the balance, PnL and open-position gauges.
func (m *Metrics) SetAccount(balance, realized float64, open int) {
	if m == nil {
		return
	}
	m.Balance.Set(balance)
	m.RealizedPnL.Set(realized)
	m.OpenPositions.Set(float64(open))
}

// SetEquity updates the marked-to-market equity gauge.
func (m *Metrics) SetEquity(equity float64) {
	if m == nil {
		return
	}
	m.Equity.Set(equity)
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSinkWrite(sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SinkWriteDur.WithLabelValues(sink).Observe(d.Seconds())
	if err != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) ObserveFetch(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDur.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveCache(decision string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(decision).Inc()
}

// SetBreakerState records the circuit breaker state and counts trips.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

func (m *Metrics) ObserveBufferedWrite() {
	if m == nil {
		return
	}
	m.RedisBufferedWrites.Inc()
}

func (m *Metrics) SetMarketOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}
