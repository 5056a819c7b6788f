package strategy

import (
	"log/slog"
	"math"

	"papertrader/config"
	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// SMACrossoverName is the registry name of SMACrossover.
const SMACrossoverName = "sma_crossover"

// spreadEpsilon treats |fast-slow| below this fraction of slow as equal.
const spreadEpsilon = 1e-9

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// The previous side of the cross is the latest non-zero sign of fast-slow
// found in the window, so a flat stretch between two same-side readings
// never produces a signal. Optional RSI filter suppresses buys when
// overbought and sells when oversold.
type SMACrossover struct {
	history

	fastPeriod int
	slowPeriod int

	// RSI filter (optional, disabled when rsiPeriod == 0)
	rsiPeriod     int
	rsiOverbought float64
	rsiOversold   float64

	log *slog.Logger
}

// NewSMACrossover creates a new SMA crossover strategy.
// Requires 1 ≤ fastPeriod < slowPeriod (e.g., 5 and 20).
func NewSMACrossover(fastPeriod, slowPeriod int) (*SMACrossover, error) {
	return newSMACrossover(Params{"fast_period": float64(fastPeriod), "slow_period": float64(slowPeriod)})
}

func newSMACrossover(p Params) (*SMACrossover, error) {
	s := &SMACrossover{
		fastPeriod:    p.Int("fast_period", 5),
		slowPeriod:    p.Int("slow_period", 20),
		rsiPeriod:     p.Int("rsi_period", 0),
		rsiOverbought: p.Float("rsi_overbought", 70),
		rsiOversold:   p.Float("rsi_oversold", 30),
		log:           slog.Default().With(slog.String("strategy", SMACrossoverName)),
	}
	if s.fastPeriod < 1 {
		return nil, config.Invalid("strategy.fast_period", "must be ≥ 1, got %d", s.fastPeriod)
	}
	if s.slowPeriod < 1 {
		return nil, config.Invalid("strategy.slow_period", "must be ≥ 1, got %d", s.slowPeriod)
	}
	if s.fastPeriod >= s.slowPeriod {
		return nil, config.Invalid("strategy.fast_period", "must be less than slow_period (%d ≥ %d)", s.fastPeriod, s.slowPeriod)
	}
	if s.rsiPeriod < 0 {
		return nil, config.Invalid("strategy.rsi_period", "must be ≥ 0, got %d", s.rsiPeriod)
	}
	return s, nil
}

func (s *SMACrossover) Name() string { return SMACrossoverName }

func (s *SMACrossover) RequiredLookback() int {
	n := max(s.fastPeriod, s.slowPeriod)
	if s.rsiPeriod > 0 {
		n = max(n, s.rsiPeriod+1)
	}
	return n
}

func (s *SMACrossover) Parameters() Params {
	return Params{
		"fast_period":    float64(s.fastPeriod),
		"slow_period":    float64(s.slowPeriod),
		"rsi_period":     float64(s.rsiPeriod),
		"rsi_overbought": s.rsiOverbought,
		"rsi_oversold":   s.rsiOversold,
	}
}

func (s *SMACrossover) OnBar(w model.Window) Signal {
	sig, err := s.evaluate(w)
	if err != nil {
		return s.record(Hold)
	}
	return s.record(sig)
}

func (s *SMACrossover) evaluate(w model.Window) (Signal, error) {
	if w.Len() < s.RequiredLookback() {
		return Hold, errDataGap
	}

	now, _ := s.spread(w)
	prev := s.previousSign(w)

	switch {
	case prev <= 0 && now > 0:
		// Golden cross: fast crosses above slow
		if s.rsiPeriod > 0 {
			if rsi, err := indicator.RSI(w.Closes(w.Len()), s.rsiPeriod); err == nil && rsi > s.rsiOverbought {
				s.log.Debug("golden cross filtered by RSI", slog.Float64("rsi", rsi))
				return Hold, nil
			}
		}
		return Buy, nil

	case prev >= 0 && now < 0:
		// Death cross: fast crosses below slow
		if s.rsiPeriod > 0 {
			if rsi, err := indicator.RSI(w.Closes(w.Len()), s.rsiPeriod); err == nil && rsi < s.rsiOversold {
				s.log.Debug("death cross filtered by RSI", slog.Float64("rsi", rsi))
				return Hold, nil
			}
		}
		return Sell, nil
	}
	return Hold, nil
}

// spread returns sign(fast-slow) at the last bar of w.
func (s *SMACrossover) spread(w model.Window) (int, bool) {
	n := max(s.fastPeriod, s.slowPeriod)
	closes := w.Closes(n)
	if closes == nil {
		return 0, false
	}
	fast, err := indicator.SMA(closes, s.fastPeriod)
	if err != nil {
		return 0, false
	}
	slow, err := indicator.SMA(closes, s.slowPeriod)
	if err != nil {
		return 0, false
	}
	return sign(fast-slow, math.Abs(spreadEpsilon*slow)), true
}

// previousSign walks back from the bar before the current one and returns
// the first non-zero spread sign, or 0 if none can be computed. Both window
// sums slide one bar per step, so a long flat stretch costs one pass.
func (s *SMACrossover) previousSign(w model.Window) int {
	end := w.Len() - 1 // windows cover bars [end-period, end)
	if end < s.slowPeriod {
		return 0
	}
	var fastSum, slowSum float64
	for i := end - s.slowPeriod; i < end; i++ {
		c := w.At(i).Close
		slowSum += c
		if i >= end-s.fastPeriod {
			fastSum += c
		}
	}
	for {
		fast := fastSum / float64(s.fastPeriod)
		slow := slowSum / float64(s.slowPeriod)
		if sg := sign(fast-slow, math.Abs(spreadEpsilon*slow)); sg != 0 {
			return sg
		}
		end--
		if end < s.slowPeriod {
			return 0
		}
		last := w.At(end).Close
		fastSum += w.At(end-s.fastPeriod).Close - last
		slowSum += w.At(end-s.slowPeriod).Close - last
	}
}
