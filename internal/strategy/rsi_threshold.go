package strategy

import (
	"papertrader/config"
	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// RSIThresholdName is the registry name of RSIThreshold.
const RSIThresholdName = "rsi_threshold"

// RSIThreshold is a threshold-oscillator strategy on Wilder's RSI.
//
// Buy signal: RSI rises back through the oversold level.
// Sell signal: RSI falls back through the overbought level.
type RSIThreshold struct {
	history

	period     int
	oversold   float64
	overbought float64
}

// NewRSIThreshold creates an RSI threshold strategy, e.g. (14, 30, 70).
func NewRSIThreshold(period int, oversold, overbought float64) (*RSIThreshold, error) {
	return newRSIThreshold(Params{"rsi_period": float64(period), "oversold": oversold, "overbought": overbought})
}

func newRSIThreshold(p Params) (*RSIThreshold, error) {
	r := &RSIThreshold{
		period:     p.Int("rsi_period", 14),
		oversold:   p.Float("oversold", 30),
		overbought: p.Float("overbought", 70),
	}
	if r.period < 2 {
		return nil, config.Invalid("strategy.rsi_period", "must be ≥ 2, got %d", r.period)
	}
	if r.oversold <= 0 || r.overbought >= 100 || r.oversold >= r.overbought {
		return nil, config.Invalid("strategy.oversold", "need 0 < oversold < overbought < 100, got %g/%g", r.oversold, r.overbought)
	}
	return r, nil
}

func (r *RSIThreshold) Name() string { return RSIThresholdName }

// RequiredLookback is period+2: period+1 closes for the previous RSI plus
// the current bar.
func (r *RSIThreshold) RequiredLookback() int { return r.period + 2 }

func (r *RSIThreshold) Parameters() Params {
	return Params{
		"rsi_period": float64(r.period),
		"oversold":   r.oversold,
		"overbought": r.overbought,
	}
}

func (r *RSIThreshold) OnBar(w model.Window) Signal {
	if w.Len() < r.RequiredLookback() {
		return r.record(Hold)
	}
	closes := w.Closes(w.Len())
	now, err := indicator.RSI(closes, r.period)
	if err != nil {
		return r.record(Hold)
	}
	prev, err := indicator.RSI(closes[:len(closes)-1], r.period)
	if err != nil {
		return r.record(Hold)
	}

	switch {
	case prev < r.oversold && now >= r.oversold:
		return r.record(Buy)
	case prev > r.overbought && now <= r.overbought:
		return r.record(Sell)
	}
	return r.record(Hold)
}
