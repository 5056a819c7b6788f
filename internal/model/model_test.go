package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"1m", time.Minute, false},
		{"5m", 5 * time.Minute, false},
		{" 15M ", 15 * time.Minute, false},
		{"1h", time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"m", 0, true},
		{"0m", 0, true},
		{"5x", 0, true},
		{"-1d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewSeriesValidation(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := []Bar{{TS: t0, Close: 1}, {TS: t0.Add(time.Hour), Close: 2}}

	s, err := NewSeries("INFY", ok)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "INFY", s.At(0).Symbol)

	_, err = NewSeries("INFY", []Bar{ok[1], ok[0]})
	assert.True(t, errors.Is(err, ErrUnorderedSeries))

	_, err = NewSeries("INFY", []Bar{ok[0], ok[0]})
	assert.True(t, errors.Is(err, ErrUnorderedSeries))

	_, err = NewSeries("INFY", []Bar{{Symbol: "TCS", TS: t0}})
	assert.True(t, errors.Is(err, ErrMixedSymbols))

	_, err = NewSeries("INFY", []Bar{{TS: t0, Close: -1}})
	assert.True(t, errors.Is(err, ErrInvalidBar))

	_, err = NewSeries("INFY", []Bar{{Close: 1}})
	assert.True(t, errors.Is(err, ErrInvalidBar))
}

func TestWindowCloses(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, Bar{TS: t0.Add(time.Duration(i) * time.Hour), Close: float64(i + 1)})
	}
	s, err := NewSeries("X", bars)
	require.NoError(t, err)

	w := s.Window(3)
	assert.Equal(t, 4, w.Len())
	assert.Equal(t, 4.0, w.Last().Close)
	assert.Equal(t, []float64{2, 3, 4}, w.Closes(3))
	assert.Nil(t, w.Closes(5))
	assert.Nil(t, w.Closes(0))
	assert.Equal(t, 2, w.Prefix(2).Len())
	assert.Equal(t, 4, w.Prefix(10).Len())
}
