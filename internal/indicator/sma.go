package indicator

// SMA returns the arithmetic mean of the last period values of closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, ErrInsufficientData
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// SMASeries returns the SMA at every index of closes. Entries before the
// period is filled are 0 and ok[i] is false.
// Uses a running sum so the whole series costs O(n).
func SMASeries(closes []float64, period int) (values []float64, ok []bool) {
	values = make([]float64, len(closes))
	ok = make([]bool, len(closes))
	if period <= 0 {
		return values, ok
	}
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			values[i] = sum / float64(period)
			ok[i] = true
		}
	}
	return values, ok
}
