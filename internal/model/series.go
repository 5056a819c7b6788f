package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidBar is returned for bars with negative prices or no timestamp.
	ErrInvalidBar = errors.New("invalid bar")
	// ErrUnorderedSeries is returned when bar timestamps are not strictly increasing.
	ErrUnorderedSeries = errors.New("bar series not strictly increasing")
	// ErrMixedSymbols is returned when a series contains bars of more than one symbol.
	ErrMixedSymbols = errors.New("bar series mixes symbols")
)

// Series is an immutable, timestamp-ordered sequence of bars for one symbol.
type Series struct {
	symbol string
	bars   []Bar
}

// NewSeries validates and copies bars into a Series. Bars with an empty
// Symbol inherit the series symbol.
func NewSeries(symbol string, bars []Bar) (Series, error) {
	cp := make([]Bar, len(bars))
	copy(cp, bars)

	var prev time.Time
	for i := range cp {
		if cp[i].Symbol == "" {
			cp[i].Symbol = symbol
		}
		if cp[i].Symbol != symbol {
			return Series{}, fmt.Errorf("%w: %q in %q series", ErrMixedSymbols, cp[i].Symbol, symbol)
		}
		if err := cp[i].Validate(); err != nil {
			return Series{}, err
		}
		if i > 0 && !cp[i].TS.After(prev) {
			return Series{}, fmt.Errorf("%w: bar %d at %s not after %s",
				ErrUnorderedSeries, i, cp[i].TS.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = cp[i].TS
	}
	return Series{symbol: symbol, bars: cp}, nil
}

// Symbol returns the series symbol.
func (s Series) Symbol() string { return s.symbol }

// Len returns the number of bars.
func (s Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s Series) At(i int) Bar { return s.bars[i] }

// Bars returns a copy of all bars.
func (s Series) Bars() []Bar {
	cp := make([]Bar, len(s.bars))
	copy(cp, s.bars)
	return cp
}

// Window returns the read-only view of bars[0..i] ending at step i.
func (s Series) Window(i int) Window {
	return Window{bars: s.bars[: i+1 : i+1]}
}

// Window is a read-only trailing view of a Series ending at the current step.
type Window struct {
	bars []Bar
}

// NewWindow wraps bars (assumed ordered) as a Window. Used by live loops and tests.
func NewWindow(bars []Bar) Window {
	return Window{bars: bars[:len(bars):len(bars)]}
}

// Len returns the number of bars in the window.
func (w Window) Len() int { return len(w.bars) }

// At returns the i-th bar of the window (0 = oldest).
func (w Window) At(i int) Bar { return w.bars[i] }

// Last returns the current (most recent) bar. The window must be non-empty.
func (w Window) Last() Bar { return w.bars[len(w.bars)-1] }

// Prefix returns the window truncated to its first n bars.
func (w Window) Prefix(n int) Window {
	if n > len(w.bars) {
		n = len(w.bars)
	}
	return Window{bars: w.bars[:n:n]}
}

// Closes returns the trailing n close prices, oldest first.
// Returns nil if the window holds fewer than n bars.
func (w Window) Closes(n int) []float64 {
	if n <= 0 || n > len(w.bars) {
		return nil
	}
	out := make([]float64, n)
	start := len(w.bars) - n
	for i := range out {
		out[i] = w.bars[start+i].Close
	}
	return out
}
