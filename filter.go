package scopelog

import (
	"sync/atomic"
	"time"
)

// timeNow is swapped in rate-limit tests.
var timeNow = time.Now

var stats struct {
	calls    atomic.Uint64
	accepted atomic.Uint64
	filtered atomic.Uint64
}

// accept is the filter engine. It runs before any record exists: an integer
// threshold compare, then the per-site override (custom threshold, every-N,
// min-interval). It reads only atomics and never fails; unconfigured sites
// fall back to the scope threshold.
func (s *siteInfo) accept(level Level, min Level) bool {
	stats.calls.Add(1)
	ov := s.override.Load()
	if ov != nil && ov.HasLevel {
		min = ov.Level
	}
	if level < min {
		stats.filtered.Add(1)
		return false
	}
	// Count after the structural check, before the rate verdict, so rate
	// windows never undercount.
	n := s.calls.Add(1)
	if ov != nil {
		if ov.Every > 1 && (n-1)%ov.Every != 0 {
			stats.filtered.Add(1)
			return false
		}
		if ov.MinInterval > 0 {
			now := timeNow().UnixNano()
			last := s.lastEmit.Load()
			if last != 0 && now-last < int64(ov.MinInterval) {
				stats.filtered.Add(1)
				return false
			}
			// Racing sites may both win a boundary; rate limits are
			// best-effort under contention.
			if !s.lastEmit.CompareAndSwap(last, now) {
				stats.filtered.Add(1)
				return false
			}
			s.accepted.Add(1)
			stats.accepted.Add(1)
			return true
		}
	}
	s.lastEmit.Store(timeNow().UnixNano())
	s.accepted.Add(1)
	stats.accepted.Add(1)
	return true
}

// Stats is a process-wide filter/dispatch counter snapshot.
type Stats struct {
	Calls    uint64 `json:"calls"`
	Accepted uint64 `json:"accepted"`
	Filtered uint64 `json:"filtered"`
}

// Snapshot returns the current process-wide counters.
func Snapshot() Stats {
	return Stats{
		Calls:    stats.calls.Load(),
		Accepted: stats.accepted.Load(),
		Filtered: stats.filtered.Load(),
	}
}
