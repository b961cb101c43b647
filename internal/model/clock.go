package model

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the canonical date format used in keys and rows.
const DateLayout = "2006-01-02"

// EndOfDay is "24:00" in minutes. It is only valid as the end of a span.
const EndOfDay = 24 * 60

// ParseClock parses strict "HH:MM" (00:00 to 23:59, or 24:00) into minutes
// after midnight. Any other spelling is rejected so that one instant has
// exactly one key.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}
	hour, _ := strconv.Atoi(s[:2])
	minute, _ := strconv.Atoi(s[3:])
	if minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}

	total := hour*60 + minute
	if total > EndOfDay {
		return 0, fmt.Errorf("time out of range: %q", s)
	}
	return total, nil
}

// ParseSpan parses a start and end time. The start must be a time of day;
// "24:00" is allowed only as the end. An end before the start crosses
// midnight.
func ParseSpan(start, end string) (startMin, endMin int, err error) {
	if startMin, err = ParseClock(start); err != nil {
		return 0, 0, err
	}
	if startMin == EndOfDay {
		return 0, 0, fmt.Errorf("start time %q must be before 24:00", start)
	}
	if endMin, err = ParseClock(end); err != nil {
		return 0, 0, err
	}
	if startMin == endMin {
		return 0, 0, fmt.Errorf("start and end time must differ")
	}
	return startMin, endMin, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// FormatClock formats minutes after midnight as "HH:MM", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DateKey formats t as "2006-01-02".
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses "2006-01-02" in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AtClock returns the instant minutes after midnight of date's day.
func AtClock(date time.Time, minutes int) time.Time {
	return StartOfDay(date).Add(time.Duration(minutes) * time.Minute)
}

// Overlaps checks half-open interval intersection: [s1,e1) and [s2,e2)
// overlap iff s1 < e2 && s2 < e1. Touching boundaries do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
