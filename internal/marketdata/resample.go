package marketdata

import (
	"time"

	"papertrader/internal/model"
)

// Resample aggregates ordered bars into buckets of width d aligned to
// midnight in loc (O=first, H=max, L=min, C=last, V=sum). The bucket start
// becomes the bar timestamp. A trailing bucket is emitted even if partial.
func Resample(bars []model.Bar, d time.Duration, loc *time.Location) []model.Bar {
	if d <= 0 || len(bars) == 0 {
		return bars
	}
	if loc == nil {
		loc = time.UTC
	}

	out := make([]model.Bar, 0, len(bars))
	var cur model.Bar
	started := false
	for _, b := range bars {
		bucket := bucketStart(b.TS, d, loc)
		if started && bucket.Equal(cur.TS) {
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		if started {
			out = append(out, cur)
		}
		cur = b
		cur.TS = bucket
		started = true
	}
	return append(out, cur)
}

func bucketStart(t time.Time, d time.Duration, loc *time.Location) time.Time {
	lt := t.In(loc)
	const day = 24 * time.Hour
	if d%day == 0 {
		midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
		n := int64(d / day)
		if n > 1 {
			days := midnight.Unix() / int64(day/time.Second)
			midnight = midnight.AddDate(0, 0, -int(days%n))
		}
		return midnight.UTC()
	}
	_, off := lt.Zone()
	secs := int64(d / time.Second)
	local := lt.Unix() + int64(off)
	return time.Unix(local-local%secs-int64(off), 0).UTC()
}
