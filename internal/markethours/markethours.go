// Package markethours answers "is the exchange open" for the cache freshness
// policy and the live paper loop.
package markethours

import (
	"fmt"
	"time"

	"papertrader/config"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session describes one exchange's regular trading hours. Open and Close
// are minutes after local midnight; the session is [Open, Close].
type Session struct {
	Location *time.Location
	Open     int
	Close    int
	holidays map[string]bool
}

// NSE returns the NSE equity session: 09:15-15:30 IST, Mon-Fri, excluding
// NSE holidays.
func NSE() Session {
	s, _ := NewSession(IST, "09:15", "15:30", NSEHolidays())
	return s
}

// NewSession builds a session from "HH:MM" open/close clock times and
// YYYY-MM-DD holidays interpreted in loc.
func NewSession(loc *time.Location, open, close string, holidays []string) (Session, error) {
	if loc == nil {
		loc = time.UTC
	}
	o, err := parseClock(open)
	if err != nil {
		return Session{}, config.Invalid("market.open", "%v", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return Session{}, config.Invalid("market.close", "%v", err)
	}
	if o >= c {
		return Session{}, config.Invalid("market.open", "open %s must be before close %s", open, close)
	}
	s := Session{Location: loc, Open: o, Close: c, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return Session{}, config.Invalid("market.holidays", "bad date %q", h)
		}
		s.holidays[dateKey(d)] = true
	}
	return s, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsHoliday returns true if the local date of t is a holiday.
func (s Session) IsHoliday(t time.Time) bool {
	return s.holidays[dateKey(t.In(s.Location))]
}

// IsWeekday returns true if t is Mon-Fri in the session location.
func (s Session) IsWeekday(t time.Time) bool {
	wd := t.In(s.Location).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (s Session) IsTradingDay(t time.Time) bool {
	return s.IsWeekday(t) && !s.IsHoliday(t)
}

// IsOpen returns true if t falls within trading hours on a trading day.
func (s Session) IsOpen(t time.Time) bool {
	if !s.IsTradingDay(t) {
		return false
	}
	local := t.In(s.Location)
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.Open && hm <= s.Close
}

func (s Session) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, s.Location)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func (s Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.Location)

	todayOpen := s.at(local, s.Open)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // weekends + holiday clusters
		if s.IsTradingDay(d) {
			return s.at(d, s.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return s.at(local.AddDate(0, 0, 1), s.Open)
}

// TodayClose returns the local close time on t's date.
func (s Session) TodayClose(t time.Time) time.Time {
	return s.at(t.In(s.Location), s.Close)
}

// TimeUntilClose returns the duration until today's close, or 0 when
// already closed.
func (s Session) TimeUntilClose(t time.Time) time.Duration {
	d := s.TodayClose(t).Sub(t)
	if d < 0 || !s.IsOpen(t) {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next open.
func (s Session) TimeUntilOpen(t time.Time) time.Duration {
	return s.NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func (s Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.TimeUntilClose(t)))
	}
	next := s.NextOpen(t)
	local := next.In(s.Location)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		local.Weekday().String()[:3], local.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
