// Package traffic keeps sliding windows of weather lookup outcomes for the health endpoint.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how long outcomes are kept regardless of the queried window.
const DefaultRetention = 5 * time.Minute

// Tracker maintains sliding windows of outcome timestamps.
// Successes and errors feed the degraded error rate; denials are counted separately.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	retention time.Duration
	successes []time.Time
	errors    []time.Time
	denials   []time.Time
}

// NewTracker returns a Tracker using the wall clock. retention <= 0 uses DefaultRetention.
func NewTracker(retention time.Duration) *Tracker {
	return NewTrackerWithClock(retention, time.Now)
}

// NewTrackerWithClock is NewTracker with an injectable clock.
func NewTrackerWithClock(retention time.Duration, now func() time.Time) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{now: now, retention: retention}
}

// RecordSuccess records a lookup that the upstream answered.
func (t *Tracker) RecordSuccess() { t.record(&t.successes) }

// RecordError records a lookup that failed because of the upstream or the network.
func (t *Tracker) RecordError() { t.record(&t.errors) }

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() { t.record(&t.denials) }

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// Snapshot is the outcome count within a window.
type Snapshot struct {
	Successes int `json:"successes"`
	Errors    int `json:"errors"`
	Denied    int `json:"denied"`
}

// ErrorPct returns errors as a percentage of successes+errors; 0 when there were none.
func (s Snapshot) ErrorPct() float64 {
	total := s.Successes + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.Errors) * 100 / float64(total)
}

// Window counts outcomes recorded within the last window.
func (t *Tracker) Window(window time.Duration) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Snapshot{
		Successes: countSince(t.successes, cutoff),
		Errors:    countSince(t.errors, cutoff),
		Denied:    countSince(t.denials, cutoff),
	}
}

// countSince counts timestamps not before cutoff. Slices are append-ordered.
func countSince(times []time.Time, cutoff time.Time) int {
	for i, ts := range times {
		if !ts.Before(cutoff) {
			return len(times) - i
		}
	}
	return 0
}

// pruneLocked drops timestamps older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for _, slice := range []*[]time.Time{&t.successes, &t.errors, &t.denials} {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
}
