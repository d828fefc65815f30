package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pulseworks/pulse/pkg/types"
)

// NextOccurrence computes the next fire time for a scheduled trigger,
// strictly after now. Missed occurrences are skipped, never fired as a
// backlog: the result is always derived from now, not from a stored due
// time that may be in the past.
//
// timeOfDay is "HH:MM" in UTC; empty means midnight. For hourly cadence
// only the minute component is used.
func NextOccurrence(freq types.Frequency, timeOfDay string, now time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	now = now.UTC()

	switch freq {
	case types.FreqHourly:
		next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(time.Hour)
		}
		return next, nil

	case types.FreqOnce, types.FreqDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case types.FreqWeekly:
		// Anchored to the weekday of now: today at timeOfDay, or the same
		// weekday next week when that has already passed.
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil

	case types.FreqMonthly:
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil

	case types.FreqCustom:
		return now.Add(freq.Period()), nil

	default:
		return time.Time{}, fmt.Errorf("next occurrence: invalid frequency %q", freq)
	}
}

func parseTimeOfDay(tod string) (hour, minute int, err error) {
	if tod == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(tod, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", tod)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", tod)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", tod)
	}
	return hour, minute, nil
}
