package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"papertrader/internal/model"
)

// CSVHeader is the column order of the trade log.
var CSVHeader = []string{"timestamp", "symbol", "action", "price", "qty", "pnl", "reason"}

// CSV appends one row per trade to a CSV trade log and flushes after every
// row so a crash never loses a recorded trade.
type CSV struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// OpenCSV opens (or creates) path for appending and writes the header when
// the file is empty.
func OpenCSV(path string) (*CSV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csv sink: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv sink: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv sink: stat: %w", err)
	}
	s := &CSV{w: csv.NewWriter(f), c: f}
	if st.Size() == 0 {
		if err := s.writeRow(CSVHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewCSV writes the header and returns a sink over w.
func NewCSV(w io.Writer) (*CSV, error) {
	s := &CSV{w: csv.NewWriter(w)}
	if err := s.writeRow(CSVHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSV) Record(_ context.Context, t model.Trade) error {
	pnl := ""
	if t.PnL != nil {
		pnl = t.PnL.StringFixed(2)
	}
	return s.writeRow([]string{
		t.TS.UTC().Format(time.RFC3339),
		t.Symbol,
		string(t.Side),
		t.Price.String(),
		fmt.Sprintf("%d", t.Qty),
		pnl,
		t.Reason,
	})
}

func (s *CSV) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("csv sink: write: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("csv sink: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if s.c != nil {
		return s.c.Close()
	}
	return s.w.Error()
}
