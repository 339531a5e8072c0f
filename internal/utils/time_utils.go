package utils

import (
	"fmt"
	"time"
)

var marketLoc *time.Location

func init() {
	var err error
	marketLoc, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to Local if timezone data is missing
		// In production docker, ensure tzdata is installed
		marketLoc = time.Local
	}
}

// SetMarketLocation overrides the market timezone, used when MARKET_TZ
// is configured.
func SetMarketLocation(tz string) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid market timezone %q: %w", tz, err)
	}
	marketLoc = loc
	return nil
}

// GetMarketTime returns the current time in the market timezone
func GetMarketTime() time.Time {
	return time.Now().In(marketLoc)
}

// GetStartOfDay returns 00:00:00 of the current day in the market timezone
func GetStartOfDay() time.Time {
	now := GetMarketTime()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, marketLoc)
}

// GetLocation returns the market *time.Location
func GetLocation() *time.Location {
	return marketLoc
}

// ParseTimeOfDay parses an "HH:MM" string into hour and minute.
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	if _, err := time.Parse("15:04", value); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	fmt.Sscanf(value, "%d:%d", &hour, &minute)
	return hour, minute, nil
}

// NextOccurrence returns the next wall-clock occurrence of hh:mm in the
// market timezone relative to now: today if still in the future,
// otherwise tomorrow.
func NextOccurrence(now time.Time, hour, minute int) time.Time {
	local := now.In(marketLoc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, marketLoc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// DelayUntil returns the delay from now to the next occurrence of hh:mm
// today. Unlike NextOccurrence it does not roll over to tomorrow: a
// time already past yields a non-positive delay, which callers treat as
// "run immediately".
func DelayUntil(now time.Time, hour, minute int) time.Duration {
	local := now.In(marketLoc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, marketLoc)
	return at.Sub(local)
}
