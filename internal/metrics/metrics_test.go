package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBar(time.Millisecond)
		m.ObserveSignal("sma_crossover", "BUY")
		m.ObserveTrade("BUY", "SIGNAL")
		m.ObserveSkip()
		m.ObserveForcedExit("STOP_LOSS")
		m.SetAccount(1, 2, 3)
		m.SetEquity(4)
		m.ObserveSinkWrite("csv", time.Millisecond, errors.New("x"))
		m.SetBreakerState(1, true)
		m.SetMarketOpen(true)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTrade("SELL", "STOP_LOSS")
	m.ObserveTrade("SELL", "STOP_LOSS")
	m.ObserveSkip()
	m.ObserveSinkWrite("postgres", time.Millisecond, errors.New("boom"))
	m.SetAccount(1035, 35, 0)
	m.SetEquity(1060)

	assert.Equal(t, 2.0, gathered(t, reg, "papertrader_trades_total", "reason", "STOP_LOSS"))
	assert.Equal(t, 1.0, gathered(t, reg, "papertrader_skipped_steps_total", "", ""))
	assert.Equal(t, 1.0, gathered(t, reg, "papertrader_sink_errors_total", "sink", "postgres"))
	assert.Equal(t, 1060.0, gathered(t, reg, "papertrader_equity", "", ""))
	assert.Equal(t, 1035.0, gathered(t, reg, "papertrader_balance", "", ""))
}

// gathered returns the counter or gauge value of the first series of name
// whose label (if given) matches.
func gathered(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if match {
				return m.GetCounter().GetValue() + m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestServerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveBar(time.Microsecond)

	health := NewHealthStatus()
	health.AddProbe("sqlite", func(context.Context) error { return nil })
	health.AddProbe("redis", func(context.Context) error { return errors.New("connection refused") })
	health.CheckAll(context.Background())

	srv := httptest.NewServer(NewServer(":0", reg, health).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "papertrader_bars_total")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Probes map[string]struct {
			OK bool `json:"ok"`
		} `json:"probes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.Probes["sqlite"].OK)
	assert.False(t, body.Probes["redis"].OK)
}
