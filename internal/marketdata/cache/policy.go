// Package cache decides when cached bars are fresh enough and wraps an
// upstream provider with a SQLite bar cache.
package cache

import (
	"fmt"
	"time"
)

// Decision values reported to metrics.
const (
	DecisionCache         = "cache"
	DecisionRefresh       = "refresh"
	DecisionStaleFallback = "stale_fallback"
)

// FreshnessInput is everything the policy looks at.
type FreshnessInput struct {
	Force        bool
	LastFetch    time.Time // zero if never fetched
	Now          time.Time
	MaxAge       time.Duration
	MarketOpen   bool
	MarketMinAge time.Duration

	// Since is the start of the requested window and CoveredFrom the start
	// of the window the last fetch covered. The coverage rule is skipped
	// when Since is zero.
	Since       time.Time
	CoveredFrom time.Time
}

// Decision is the policy outcome.
type Decision struct {
	Refresh bool
	Reason  string
}

// Decide returns whether to refetch. Rules apply in order: forced, never
// fetched, requested window reaches before the cached one, older than
// MaxAge, market open and older than MarketMinAge. Otherwise the cache is
// used.
func Decide(in FreshnessInput) Decision {
	if in.Force {
		return Decision{Refresh: true, Reason: "force refresh requested"}
	}
	if in.LastFetch.IsZero() {
		return Decision{Refresh: true, Reason: "no previous fetch recorded"}
	}
	if !in.Since.IsZero() && (in.CoveredFrom.IsZero() || in.CoveredFrom.After(in.Since)) {
		return Decision{Refresh: true, Reason: fmt.Sprintf("cache covers from %s, window starts %s",
			fmtDay(in.CoveredFrom), fmtDay(in.Since))}
	}
	age := in.Now.Sub(in.LastFetch)
	if age >= in.MaxAge {
		return Decision{Refresh: true, Reason: fmt.Sprintf("data is %s old (threshold %s)", fmtAge(age), in.MaxAge)}
	}
	if in.MarketOpen && age >= in.MarketMinAge {
		return Decision{Refresh: true, Reason: "market is open and data may have updated"}
	}
	return Decision{Reason: fmt.Sprintf("data is fresh (fetched %s ago)", fmtAge(age))}
}

func fmtAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

func fmtDay(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02")
}
