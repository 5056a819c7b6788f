// Package sink provides model.TradeSink implementations that need no
// external service: an in-memory recorder, a CSV trade log, a fan-out and a
// notifying decorator. Database-backed sinks live under internal/store.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"papertrader/internal/model"
	"papertrader/internal/notification"
)

// Memory records trades and snapshots in memory. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	trades    []model.Trade
	snapshots []model.RunSnapshot
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(_ context.Context, t model.Trade) error {
	m.mu.Lock()
	m.trades = append(m.trades, t)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecordSnapshot(_ context.Context, s model.RunSnapshot) error {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, s)
	m.mu.Unlock()
	return nil
}

// Trades returns a copy of the recorded trades in arrival order.
func (m *Memory) Trades() []model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Trade, len(m.trades))
	copy(cp, m.trades)
	return cp
}

// Snapshots returns a copy of the recorded snapshots.
func (m *Memory) Snapshots() []model.RunSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.RunSnapshot, len(m.snapshots))
	copy(cp, m.snapshots)
	return cp
}

// Multi fans every trade out to all sinks in order. The first failing sink
// stops the fan-out so no later sink sees a trade an earlier one lost.
type Multi []model.TradeSink

func (m Multi) Record(ctx context.Context, t model.Trade) error {
	for i, s := range m {
		if err := s.Record(ctx, t); err != nil {
			return fmt.Errorf("sink %d (%T): %w", i, s, err)
		}
	}
	return nil
}

// RecordSnapshot forwards to every sink implementing model.SnapshotSink.
func (m Multi) RecordSnapshot(ctx context.Context, snap model.RunSnapshot) error {
	var errs []error
	for i, s := range m {
		if ss, ok := s.(model.SnapshotSink); ok {
			if err := ss.RecordSnapshot(ctx, snap); err != nil {
				errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink implementing model.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(model.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Notifying wraps a sink and sends an alert for forced exits (and, with
// AllTrades, for every trade). Notification failures are logged by the
// notifier chain and never fail the wrapped Record.
type Notifying struct {
	Next      model.TradeSink
	Notifier  notification.Notifier
	AllTrades bool
	// OnError receives notifier errors. Optional.
	OnError func(error)
}

func (n *Notifying) Record(ctx context.Context, t model.Trade) error {
	if n.Next != nil {
		if err := n.Next.Record(ctx, t); err != nil {
			return err
		}
	}
	if n.AllTrades || (t.Reason != "" && t.Reason != model.ReasonSignal) {
		if err := n.Notifier.Send(ctx, notification.TradeAlert(t)); err != nil && n.OnError != nil {
			n.OnError(err)
		}
	}
	return nil
}

func (n *Notifying) RecordSnapshot(ctx context.Context, s model.RunSnapshot) error {
	if ss, ok := n.Next.(model.SnapshotSink); ok {
		if err := ss.RecordSnapshot(ctx, s); err != nil {
			return err
		}
	}
	if err := n.Notifier.Send(ctx, notification.RunAlert(s)); err != nil && n.OnError != nil {
		n.OnError(err)
	}
	return nil
}
