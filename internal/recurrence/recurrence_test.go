package recurrence

import (
	"testing"
	"time"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test time %q: %v", s, err)
	}
	return ts
}

func TestNextOccurrence_EmptyInputs(t *testing.T) {
	now := time.Now()
	if _, ok := NextOccurrence(nil, []domain.TimeOfDay{{Hour: 9}}, now, time.UTC); ok {
		t.Error("expected no occurrence for empty days")
	}
	if _, ok := NextOccurrence([]domain.Weekday{domain.Monday}, nil, now, time.UTC); ok {
		t.Error("expected no occurrence for empty times")
	}
}

// 2024-01-15 is a Monday.
func TestNextOccurrence_SameWeekFriday(t *testing.T) {
	days := []domain.Weekday{domain.Friday}
	times := []domain.TimeOfDay{{Hour: 9, Minute: 0}}

	// Monday before Friday 09:00: next is that same Friday.
	after := at(t, "2024-01-15T12:00:00Z")
	got, ok := NextOccurrence(days, times, after, time.UTC)
	if !ok {
		t.Fatal("expected occurrence")
	}
	want := at(t, "2024-01-19T09:00:00Z")
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	// From exactly Friday 09:00: strictly after, so next Friday.
	got, ok = NextOccurrence(days, times, want, time.UTC)
	if !ok {
		t.Fatal("expected occurrence")
	}
	next := at(t, "2024-01-26T09:00:00Z")
	if !got.Equal(next) {
		t.Fatalf("after MarkRun instant: got %s, want %s", got, next)
	}
}

func TestNextOccurrence_SameDayLaterTime(t *testing.T) {
	days := []domain.Weekday{domain.Monday}
	times := []domain.TimeOfDay{{Hour: 9, Minute: 0}, {Hour: 15, Minute: 0}}

	// Monday 10:00: 09:00 already passed, 15:00 is next.
	got, ok := NextOccurrence(days, times, at(t, "2024-01-15T10:00:00Z"), time.UTC)
	if !ok {
		t.Fatal("expected occurrence")
	}
	if want := at(t, "2024-01-15T15:00:00Z"); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	// Monday 16:00: both passed today, next is Monday next week 09:00.
	got, ok = NextOccurrence(days, times, at(t, "2024-01-15T16:00:00Z"), time.UTC)
	if !ok {
		t.Fatal("expected occurrence")
	}
	if want := at(t, "2024-01-22T09:00:00Z"); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// Walking from occurrence to occurrence visits exactly days × times in
// chronological order, with no repeats and no gaps within a week.
func TestNextOccurrence_CartesianWalk(t *testing.T) {
	days := []domain.Weekday{domain.Monday, domain.Wednesday}
	times := []domain.TimeOfDay{{Hour: 9, Minute: 0}, {Hour: 15, Minute: 0}}

	cursor := at(t, "2024-01-14T00:00:00Z") // Sunday
	want := []string{
		"2024-01-15T09:00:00Z", // mon 09:00
		"2024-01-15T15:00:00Z", // mon 15:00
		"2024-01-17T09:00:00Z", // wed 09:00
		"2024-01-17T15:00:00Z", // wed 15:00
		"2024-01-22T09:00:00Z", // next week's mon 09:00
	}

	for i, w := range want {
		got, ok := NextOccurrence(days, times, cursor, time.UTC)
		if !ok {
			t.Fatalf("step %d: expected occurrence", i)
		}
		if wantT := at(t, w); !got.Equal(wantT) {
			t.Fatalf("step %d: got %s, want %s", i, got, wantT)
		}
		cursor = got
	}
}

// The result is always strictly after the reference instant and lands on a
// configured day/time pair, regardless of where in the week we start.
func TestNextOccurrence_StrictlyAfterProperty(t *testing.T) {
	loc, err := time.LoadLocation("America/Santo_Domingo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	days := []domain.Weekday{domain.Tuesday, domain.Saturday, domain.Sunday}
	times := []domain.TimeOfDay{{Hour: 0, Minute: 0}, {Hour: 12, Minute: 30}, {Hour: 23, Minute: 59}}
	wanted := map[time.Weekday]bool{time.Tuesday: true, time.Saturday: true, time.Sunday: true}

	cursor := at(t, "2024-03-01T00:00:00Z")
	for i := 0; i < 200; i++ {
		got, ok := NextOccurrence(days, times, cursor, loc)
		if !ok {
			t.Fatalf("step %d: expected occurrence", i)
		}
		if !got.After(cursor) {
			t.Fatalf("step %d: %s not strictly after %s", i, got, cursor)
		}
		local := got.In(loc)
		if !wanted[local.Weekday()] {
			t.Fatalf("step %d: %s lands on unconfigured day %s", i, got, local.Weekday())
		}
		matched := false
		for _, tod := range times {
			if local.Hour() == tod.Hour && local.Minute() == tod.Minute {
				matched = true
			}
		}
		if !matched {
			t.Fatalf("step %d: %s does not match a configured time", i, local)
		}
		cursor = got.Add(17 * time.Minute)
	}
}

// Pure function: identical inputs give identical outputs.
func TestNextOccurrence_Deterministic(t *testing.T) {
	days := []domain.Weekday{domain.Friday}
	times := []domain.TimeOfDay{{Hour: 9, Minute: 0}}
	after := at(t, "2024-01-15T12:00:00Z")

	a, _ := NextOccurrence(days, times, after, time.UTC)
	b, _ := NextOccurrence(days, times, after, time.UTC)
	if !a.Equal(b) {
		t.Fatalf("non-deterministic: %s vs %s", a, b)
	}
}
