package utils

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	hour, minute, err := ParseTimeOfDay("15:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay failed: %v", err)
	}
	if hour != 15 || minute != 15 {
		t.Errorf("expected 15:15, got %02d:%02d", hour, minute)
	}

	hour, minute, err = ParseTimeOfDay("09:05")
	if err != nil {
		t.Fatalf("ParseTimeOfDay failed: %v", err)
	}
	if hour != 9 || minute != 5 {
		t.Errorf("expected 09:05, got %02d:%02d", hour, minute)
	}

	for _, bad := range []string{"25:00", "15:60", "151:5", "noon", ""} {
		if _, _, err := ParseTimeOfDay(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestNextOccurrenceRollsToTomorrow(t *testing.T) {
	loc := GetLocation()
	now := time.Date(2024, 9, 16, 16, 0, 0, 0, loc) // past 15:15

	next := NextOccurrence(now, 15, 15)
	want := time.Date(2024, 9, 17, 15, 15, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextOccurrenceSameDay(t *testing.T) {
	loc := GetLocation()
	now := time.Date(2024, 9, 16, 10, 0, 0, 0, loc)

	next := NextOccurrence(now, 15, 15)
	want := time.Date(2024, 9, 16, 15, 15, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestDelayUntilDoesNotRollOver(t *testing.T) {
	loc := GetLocation()

	now := time.Date(2024, 9, 16, 14, 15, 0, 0, loc)
	if got := DelayUntil(now, 15, 15); got != time.Hour {
		t.Errorf("expected 1h delay, got %v", got)
	}

	// A time already past must come back negative, not tomorrow's
	// occurrence: intraday exits fire immediately when missed.
	now = time.Date(2024, 9, 16, 16, 15, 0, 0, loc)
	if got := DelayUntil(now, 15, 15); got != -time.Hour {
		t.Errorf("expected -1h delay, got %v", got)
	}
}

func TestGetStartOfDay(t *testing.T) {
	start := GetStartOfDay()
	if start.Hour() != 0 || start.Minute() != 0 || start.Second() != 0 {
		t.Errorf("expected midnight, got %v", start)
	}
	if !GetMarketTime().After(start) {
		t.Error("start of day must not be in the future")
	}
}
