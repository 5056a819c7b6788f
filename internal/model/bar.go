package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar represents one OHLCV candle for a fixed interval of a single symbol.
// Prices are float64 in the instrument's quote currency.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate rejects bars with negative fields or a missing timestamp.
func (b *Bar) Validate() error {
	if b.TS.IsZero() {
		return fmt.Errorf("%w: %s bar has zero timestamp", ErrInvalidBar, b.Symbol)
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 || b.Volume < 0 {
		return fmt.Errorf("%w: %s bar at %s has negative field", ErrInvalidBar, b.Symbol, b.TS.Format(time.RFC3339))
	}
	return nil
}

// JSON returns the JSON-encoded bar (ignoring errors).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
