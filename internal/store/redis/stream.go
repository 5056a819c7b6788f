package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/ringbuf"
)

const (
	tradeStreamMaxLen = 10000
	snapshotTTL       = 7 * 24 * time.Hour
	runsChannel       = "pub:runs"
)

// TradeStream is a trade and snapshot sink backed by Redis. Writes go
// through a circuit breaker; while it is open trades are buffered locally
// (oldest dropped past maxBuffer) and replayed on the next successful write
// or on Flush.
type TradeStream struct {
	client  Client
	cb      *CircuitBreaker
	metrics *metrics.Metrics
	runID   string

	mu        sync.Mutex
	pending   *ringbuf.Ring[model.Trade]
	maxBuffer int
}

// StreamOption configures a TradeStream.
type StreamOption func(*TradeStream)

// WithBreaker replaces the default breaker (5 failures, 10s reset).
func WithBreaker(cb *CircuitBreaker) StreamOption {
	return func(s *TradeStream) { s.cb = cb }
}

// WithMetrics reports breaker state and buffered writes.
func WithMetrics(m *metrics.Metrics) StreamOption {
	return func(s *TradeStream) { s.metrics = m }
}

// WithMaxBuffer bounds the local buffer used while the breaker is open.
func WithMaxBuffer(n int) StreamOption {
	return func(s *TradeStream) {
		if n > 0 {
			s.maxBuffer = n
		}
	}
}

// NewTradeStream returns a sink writing trades of runID through client.
func NewTradeStream(client Client, runID string, opts ...StreamOption) *TradeStream {
	s := &TradeStream{
		client:    client,
		runID:     runID,
		maxBuffer: 10000,
	}
	for _, o := range opts {
		o(s)
	}
	s.pending = ringbuf.New[model.Trade](s.maxBuffer)
	if s.cb == nil {
		s.cb = NewCircuitBreaker(5, 10*time.Second)
	}
	prev := s.cb.OnStateChange
	s.cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		s.metrics.SetBreakerState(int(to), to == StateOpen)
	}
	return s
}

// StreamKey returns the stream holding trades of symbol.
func StreamKey(symbol string) string { return "trades:" + symbol }

// TradeChannel returns the pubsub channel for trades of symbol.
func TradeChannel(symbol string) string { return "pub:trades:" + symbol }

// SnapshotKey returns the key holding the snapshot of runID.
func SnapshotKey(runID string) string { return "run:" + runID + ":snapshot" }

// Record writes the trade, or buffers it if the breaker is open. Buffered
// trades are replayed first so stream order matches execution order.
func (s *TradeStream) Record(ctx context.Context, t model.Trade) error {
	err := s.cb.Execute(func() error {
		if err := s.drain(ctx); err != nil {
			return err
		}
		return s.write(ctx, t)
	})
	if err == ErrCircuitOpen {
		s.buffer(t)
		return nil
	}
	if err != nil {
		// the failed trade is kept so a later write can retry it
		s.buffer(t)
		log.Printf("[redis] trade %s buffered after error: %v", t.ID, err)
		return nil
	}
	return nil
}

func (s *TradeStream) write(ctx context.Context, t model.Trade) error {
	pnl := ""
	if t.PnL != nil {
		pnl = t.PnL.String()
	}
	values := map[string]interface{}{
		"id":     t.ID,
		"run_id": s.runID,
		"symbol": t.Symbol,
		"side":   string(t.Side),
		"price":  t.Price.String(),
		"qty":    t.Qty,
		"pnl":    pnl,
		"reason": t.Reason,
		"ts":     t.TS.UTC().Format(time.RFC3339),
	}
	if err := s.client.XAdd(ctx, StreamKey(t.Symbol), tradeStreamMaxLen, values); err != nil {
		return fmt.Errorf("redis XADD %s: %w", StreamKey(t.Symbol), err)
	}
	// The entry is stored; a failed notification is not retried.
	if err := s.client.Publish(ctx, TradeChannel(t.Symbol), string(t.JSON())); err != nil {
		log.Printf("[redis] trade %s written, PUBLISH %s failed: %v", t.ID, TradeChannel(t.Symbol), err)
	}
	return nil
}

func (s *TradeStream) buffer(t model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending.Push(t) {
		log.Printf("[redis] buffer full, dropped oldest pending trade (%d dropped)", s.pending.Overflow())
	}
	s.metrics.ObserveBufferedWrite()
}

// drain writes buffered trades in order, keeping the unwritten tail on error.
func (s *TradeStream) drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		t, ok := s.pending.Peek()
		if !ok {
			return nil
		}
		if err := s.write(ctx, t); err != nil {
			return err
		}
		s.pending.Pop()
	}
}

// Pending returns the number of buffered trades.
func (s *TradeStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Flush replays buffered trades through the breaker.
func (s *TradeStream) Flush(ctx context.Context) error {
	if s.Pending() == 0 {
		return nil
	}
	return s.cb.Execute(func() error { return s.drain(ctx) })
}

// RecordSnapshot stores the snapshot and announces it on pub:runs.
func (s *TradeStream) RecordSnapshot(ctx context.Context, snap model.RunSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.cb.Execute(func() error {
		if err := s.client.Set(ctx, SnapshotKey(snap.RunID), string(data), snapshotTTL); err != nil {
			return fmt.Errorf("redis SET snapshot: %w", err)
		}
		return s.client.Publish(ctx, runsChannel, string(data))
	})
}

// LatestTrades returns up to n of the newest trades on the symbol's stream,
// newest first.
func (s *TradeStream) LatestTrades(ctx context.Context, symbol string, n int64) ([]model.Trade, error) {
	entries, err := s.client.XRevRange(ctx, StreamKey(symbol), n)
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", StreamKey(symbol), err)
	}
	trades := make([]model.Trade, 0, len(entries))
	for _, e := range entries {
		t, err := decodeTrade(e)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Snapshot loads a stored run snapshot.
func (s *TradeStream) Snapshot(ctx context.Context, runID string) (model.RunSnapshot, bool, error) {
	v, ok, err := s.client.Get(ctx, SnapshotKey(runID))
	if err != nil || !ok {
		return model.RunSnapshot{}, ok, err
	}
	var snap model.RunSnapshot
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return model.RunSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Ping is a health probe.
func (s *TradeStream) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

// Close flushes what it can and closes the client.
func (s *TradeStream) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		log.Printf("[redis] %d trades not flushed on close: %v", s.Pending(), err)
	}
	return s.client.Close()
}

func decodeTrade(v map[string]interface{}) (model.Trade, error) {
	str := func(k string) string {
		switch x := v[k].(type) {
		case string:
			return x
		case nil:
			return ""
		default:
			return fmt.Sprint(x)
		}
	}
	t := model.Trade{
		ID:     str("id"),
		Symbol: str("symbol"),
		Side:   model.Side(str("side")),
		Reason: str("reason"),
	}
	var err error
	if t.Price, err = decimal.NewFromString(str("price")); err != nil {
		return model.Trade{}, fmt.Errorf("decode trade %s price: %w", t.ID, err)
	}
	if t.Qty, err = strconv.ParseInt(str("qty"), 10, 64); err != nil {
		return model.Trade{}, fmt.Errorf("decode trade %s qty: %w", t.ID, err)
	}
	if p := str("pnl"); p != "" {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return model.Trade{}, fmt.Errorf("decode trade %s pnl: %w", t.ID, err)
		}
		t.PnL = &d
	}
	if t.TS, err = time.Parse(time.RFC3339, str("ts")); err != nil {
		return model.Trade{}, fmt.Errorf("decode trade %s ts: %w", t.ID, err)
	}
	return t, nil
}
