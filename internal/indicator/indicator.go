// Package indicator provides technical indicator calculations over bar windows.
//
// Every function is a pure function of the closes it receives: no state is
// carried between calls, so a strategy built on top of them stays replayable.
package indicator

import "errors"

// ErrInsufficientData is returned when fewer values are supplied than the
// indicator period requires.
var ErrInsufficientData = errors.New("insufficient data for indicator")
