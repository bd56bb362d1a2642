package engage

import (
	"sync"
	"time"
)

// Budget enforces hourly and daily reply caps over UTC calendar windows.
// State is in memory only and resets with the process. Safe for concurrent use.
type Budget struct {
	maxPerHour int
	maxPerDay  int

	mu      sync.Mutex
	actions []time.Time
}

// NewBudget creates a budget; a non-positive cap disables that window.
func NewBudget(maxPerHour, maxPerDay int) *Budget {
	return &Budget{maxPerHour: maxPerHour, maxPerDay: maxPerDay}
}

func windows(now time.Time) (startHour, startDay time.Time) {
	now = now.UTC()
	startHour = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	startDay = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return startHour, startDay
}

func (b *Budget) countsLocked(now time.Time) (hour, day int) {
	startHour, startDay := windows(now)
	kept := b.actions[:0]
	for _, t := range b.actions {
		if t.Before(startDay) {
			continue
		}
		kept = append(kept, t)
		day++
		if !t.Before(startHour) {
			hour++
		}
	}
	b.actions = kept
	return hour, day
}

func (b *Budget) allowLocked(now time.Time) bool {
	hour, day := b.countsLocked(now)
	if b.maxPerHour > 0 && hour >= b.maxPerHour {
		return false
	}
	if b.maxPerDay > 0 && day >= b.maxPerDay {
		return false
	}
	return true
}

// TryAcquire reserves a reply slot if both windows have room.
func (b *Budget) TryAcquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.allowLocked(now) {
		return false
	}
	b.actions = append(b.actions, now.UTC())
	return true
}

// Release returns a slot taken by TryAcquire at now, for a reply that was never posted.
func (b *Budget) Release(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now = now.UTC()
	for i := len(b.actions) - 1; i >= 0; i-- {
		if b.actions[i].Equal(now) {
			b.actions = append(b.actions[:i], b.actions[i+1:]...)
			return
		}
	}
}

// Counts returns replies recorded in the current hour and day.
func (b *Budget) Counts(now time.Time) (hour, day int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countsLocked(now)
}
