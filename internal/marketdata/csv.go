package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/model"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CSVProvider reads bars from a file with a header row naming at least
// timestamp (or date), open, high, low and close. Optional columns are volume
// and symbol; without a symbol column every row belongs to any requested
// symbol. Timestamps without a zone are read in Location.
//
// The lookback window is measured back from the newest bar in the file, not
// from the wall clock, so archived files stay usable.
type CSVProvider struct {
	Path     string
	Location *time.Location
	// Resample aggregates rows to the requested interval when the file is
	// finer grained.
	Resample bool
}

var _ model.MarketDataProvider = (*CSVProvider)(nil)

// NewCSVProvider returns a provider reading path.
func NewCSVProvider(path string, loc *time.Location) *CSVProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVProvider{Path: path, Location: loc, Resample: true}
}

// Fetch reads the file and returns the trailing lookbackDays of bars.
func (p *CSVProvider) Fetch(ctx context.Context, symbol, interval string, lookbackDays int) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()

	bars, err := ReadBarsCSV(f, symbol, p.Location)
	if err != nil {
		return nil, fmt.Errorf("csv source %s: %w", p.Path, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("csv source %s: no bars for %s", p.Path, symbol)
	}

	if p.Resample && interval != "" {
		d, err := model.ParseInterval(interval)
		if err != nil {
			return nil, err
		}
		bars = Resample(bars, d, p.Location)
	}

	if lookbackDays > 0 {
		cutoff := bars[len(bars)-1].TS.AddDate(0, 0, -lookbackDays)
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].TS.Before(cutoff) })
		bars = bars[i:]
	}
	return bars, nil
}

// CurrentPrice returns the close of the newest bar.
func (p *CSVProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := p.Fetch(ctx, symbol, "", 0)
	if err != nil {
		return 0, err
	}
	return bars[len(bars)-1].Close, nil
}

// ReadBarsCSV parses bars from r, keeping rows for symbol, sorted by time.
// Duplicate timestamps keep the last row.
func ReadBarsCSV(r io.Reader, symbol string, loc *time.Location) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	tsCol, ok := col["timestamp"]
	if !ok {
		if tsCol, ok = col["date"]; !ok {
			return nil, errors.New("missing timestamp column")
		}
	}
	for _, c := range []string{"open", "high", "low", "close"} {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("missing %s column", c)
		}
	}
	symCol, hasSym := col["symbol"]
	volCol, hasVol := col["volume"]

	byTS := make(map[int64]model.Bar)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if hasSym && !strings.EqualFold(rec[symCol], symbol) {
			continue
		}

		ts, err := parseTime(rec[tsCol], loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := model.Bar{Symbol: symbol, TS: ts}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
		}
		for _, fld := range fields {
			if *fld.dst, err = strconv.ParseFloat(strings.TrimSpace(rec[col[fld.name]]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, fld.name, err)
			}
		}
		if hasVol && strings.TrimSpace(rec[volCol]) != "" {
			if b.Volume, err = strconv.ParseFloat(strings.TrimSpace(rec[volCol]), 64); err != nil {
				return nil, fmt.Errorf("line %d: volume: %w", line, err)
			}
		}
		byTS[ts.UnixNano()] = b
	}

	bars := make([]model.Bar, 0, len(byTS))
	for _, b := range byTS {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
