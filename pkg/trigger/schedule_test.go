package trigger

import (
	"sync"
	"testing"
	"time"

	"github.com/pulseworks/pulse/pkg/types"
)

// fixedClock is a test clock that returns a controllable time.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func TestNextOccurrenceDaily(t *testing.T) {
	// Monday 2025-06-02, 08:00 UTC
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(types.FreqDaily, "09:30", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	// Later the same day: tomorrow
	next, err = NextOccurrence(types.FreqDaily, "09:30", now.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want = time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextOccurrenceHourly(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 40, 0, 0, time.UTC)

	next, err := NextOccurrence(types.FreqHourly, "00:15", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextOccurrenceWeekly(t *testing.T) {
	// Monday; next Monday when the time of day passed
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(types.FreqWeekly, "09:00", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextOccurrenceMonthly(t *testing.T) {
	now := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	next, err := NextOccurrence(types.FreqMonthly, "09:00", now)
	if err != nil {
		t.Fatal(err)
	}
	// Jan 31 + one month normalizes to Mar 3 per time.AddDate
	want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextOccurrenceStrictlyAfterNow(t *testing.T) {
	// Exactly at the scheduled instant: the next occurrence, not now
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	next, err := NextOccurrence(types.FreqDaily, "09:30", now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(now) {
		t.Fatalf("next occurrence must be strictly after now, got %s", next)
	}
}

func TestNextOccurrenceEmptyTimeOfDay(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	next, err := NextOccurrence(types.FreqDaily, "", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected midnight tomorrow, got %s", next)
	}
}

func TestNextOccurrenceBadInput(t *testing.T) {
	now := time.Now().UTC()
	if _, err := NextOccurrence(types.FreqDaily, "25:61", now); err == nil {
		t.Fatal("expected error for bad time of day")
	}
	if _, err := NextOccurrence(types.Frequency("FORTNIGHTLY"), "", now); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
