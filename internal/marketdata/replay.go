package marketdata

import (
	"context"
	"log"
	"time"

	"papertrader/internal/model"
)

// Replay feeds bars to fn in order, sleeping the gap between consecutive
// timestamps divided by speed. speed <= 0 replays as fast as possible. It
// stops at the first error from fn or when ctx is cancelled.
func Replay(ctx context.Context, bars []model.Bar, speed float64, fn func(model.Bar) error) error {
	log.Printf("[replay] %d bars, speed=%.1fx", len(bars), speed)

	var prev time.Time
	for i, b := range bars {
		if speed > 0 && !prev.IsZero() {
			if gap := time.Duration(float64(b.TS.Sub(prev)) / speed); gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					log.Printf("[replay] cancelled after %d bars", i)
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d bars", i)
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		prev = b.TS
	}
	return nil
}
