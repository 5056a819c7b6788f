// Package strategy provides the signal generators used by the backtest driver
// and the live paper loop.
//
// A Strategy receives a trailing window of bars and returns BUY, SELL or HOLD.
// Strategies carry no state between calls other than an audit history of the
// signals they returned, which never influences later results.
package strategy

import (
	"errors"

	"papertrader/internal/model"
)

// Signal is the action a strategy recommends for the current bar.
type Signal string

const (
	Hold Signal = "HOLD"
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
)

func (s Signal) String() string { return string(s) }

// errDataGap marks a window shorter than the strategy lookback. It is handled
// inside the package as HOLD and never returned to callers.
var errDataGap = errors.New("window shorter than required lookback")

// ErrUnknownStrategy is returned by Registry.Build for unregistered names.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is the interface all signal generators implement.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string

	// RequiredLookback is the minimum window length (≥1) needed for a
	// non-HOLD signal. Shorter windows always yield HOLD.
	RequiredLookback() int

	// OnBar evaluates the window ending at the current bar. Every call
	// appends the returned signal to History.
	OnBar(w model.Window) Signal

	// Parameters returns the effective parameters of this instance.
	Parameters() Params

	// History returns a copy of every signal returned so far.
	History() []Signal

	// Reset clears History. Drivers call it before a new run.
	Reset()
}

// history is the append-only audit log embedded by concrete strategies.
type history struct {
	signals []Signal
}

func (h *history) record(s Signal) Signal {
	h.signals = append(h.signals, s)
	return s
}

// History returns a copy of the recorded signals.
func (h *history) History() []Signal {
	cp := make([]Signal, len(h.signals))
	copy(cp, h.signals)
	return cp
}

// Reset clears the recorded signals.
func (h *history) Reset() {
	h.signals = h.signals[:0]
}

// Counts tallies signals by kind.
func Counts(signals []Signal) map[Signal]int {
	out := map[Signal]int{Buy: 0, Sell: 0, Hold: 0}
	for _, s := range signals {
		out[s]++
	}
	return out
}

func sign(x, eps float64) int {
	switch {
	case x > eps:
		return 1
	case x < -eps:
		return -1
	default:
		return 0
	}
}
