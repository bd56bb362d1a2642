package analytics

import (
	"sort"
	"sync"
	"time"
)

// Trigger outcomes recorded by the poller.
const (
	OutcomeReplied  = "replied"
	OutcomeSkipped  = "skipped"
	OutcomeDeferred = "deferred"
	OutcomeFailed   = "failed"
)

// Event is one handled trigger.
type Event struct {
	Timestamp time.Time
	Outcome   string
}

// Bucket is the outcome counts for one UTC hour.
type Bucket struct {
	Hour   time.Time      `json:"hour"`
	Counts map[string]int `json:"counts"`
}

// HourlyActivity aggregates events into per-hour buckets.
func HourlyActivity(events []Event) map[time.Time]map[string]int {
	buckets := make(map[time.Time]map[string]int)
	for _, e := range events {
		key := e.Timestamp.UTC().Truncate(time.Hour)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][e.Outcome]++
	}
	return buckets
}

// SortedBucketKeys returns sorted hour keys.
func SortedBucketKeys(m map[time.Time]map[string]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Recorder keeps trigger outcomes for a sliding window. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	window time.Duration
	now    func() time.Time
}

// NewRecorder keeps events for window (24h when zero).
func NewRecorder(window time.Duration) *Recorder {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Recorder{window: window, now: time.Now}
}

func (r *Recorder) Record(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.pruneLocked(now)
	r.events = append(r.events, Event{Timestamp: now, Outcome: outcome})
}

func (r *Recorder) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.events) && r.events[i].Timestamp.Before(cutoff) {
		i++
	}
	r.events = r.events[i:]
}

// Hourly returns the window's outcomes bucketed by hour, oldest first.
func (r *Recorder) Hourly() []Bucket {
	r.mu.Lock()
	r.pruneLocked(r.now())
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()

	m := HourlyActivity(events)
	out := make([]Bucket, 0, len(m))
	for _, k := range SortedBucketKeys(m) {
		out = append(out, Bucket{Hour: k, Counts: m[k]})
	}
	return out
}

// Totals sums the window's outcomes.
func (r *Recorder) Totals() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	out := map[string]int{}
	for _, e := range r.events {
		out[e.Outcome]++
	}
	return out
}
