package normalizer

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// isoLayouts are tried first and must match the whole input
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// calendarLayouts are tried in order after ISO-8601. Month-first wins over day-first
// for ambiguous inputs such as 03/04/2024.
var calendarLayouts = []string{
	"1/2/2006",
	"1-2-2006",
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2-Jan-2006",
	"2/Jan/2006",
	"Jan-2-2006",
	"Jan/2/2006",
	"2006/1/2",
}

const (
	minYear = 1900
	maxYear = 2200
)

// ParseDate resolves a free-form date string to a calendar date (midnight UTC).
// It returns false when no parser yields a valid, in-range date.
func ParseDate(value string) (time.Time, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			if d, ok := calendarDate(t); ok {
				return d, true
			}
		}
	}

	for _, layout := range calendarLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			if d, ok := calendarDate(t); ok {
				return d, true
			}
		}
	}

	if t, err := dateparse.ParseAny(cleaned); err == nil {
		if d, ok := calendarDate(t); ok {
			return d, true
		}
	}

	return time.Time{}, false
}

// SameDay compares calendar days, each read in its own location
func SameDay(date time.Time, day time.Time) bool {
	y1, m1, d1 := date.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func calendarDate(t time.Time) (time.Time, bool) {
	y, m, d := t.Date()
	if y < minYear || y > maxYear {
		return time.Time{}, false
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}
