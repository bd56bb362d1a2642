package analytics

import (
	"testing"
	"time"
)

func TestHourlyActivity(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	b := HourlyActivity([]Event{
		{Timestamp: base.Add(5 * time.Minute), Outcome: OutcomeReplied},
		{Timestamp: base.Add(50 * time.Minute), Outcome: OutcomeReplied},
		{Timestamp: base.Add(70 * time.Minute), Outcome: OutcomeSkipped},
	})
	keys := SortedBucketKeys(b)
	if len(keys) != 2 || !keys[0].Equal(base) {
		t.Fatalf("unexpected keys %v", keys)
	}
	if b[base][OutcomeReplied] != 2 {
		t.Fatalf("expected 2 replies in first hour, got %d", b[base][OutcomeReplied])
	}
}

func TestRecorderWindow(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(2 * time.Hour)
	r.now = func() time.Time { return now }

	r.Record(OutcomeReplied)
	now = now.Add(90 * time.Minute)
	r.Record(OutcomeDeferred)
	now = now.Add(time.Hour)
	r.Record(OutcomeFailed)

	totals := r.Totals()
	if totals[OutcomeReplied] != 0 {
		t.Fatalf("expired event still counted: %v", totals)
	}
	if totals[OutcomeDeferred] != 1 || totals[OutcomeFailed] != 1 {
		t.Fatalf("unexpected totals %v", totals)
	}
	if got := len(r.Hourly()); got != 2 {
		t.Fatalf("expected 2 buckets, got %d", got)
	}
}
