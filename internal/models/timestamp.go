package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a value is not an ISO-8601 timestamp
var ErrInvalidTimestamp = errors.New("invalid timestamp")

const (
	isoSeconds      = "2006-01-02T15:04:05-07:00"
	isoMicroseconds = "2006-01-02T15:04:05.000000-07:00"
	displayLayout   = "2006-01-02 15:04:05"
)

var timestampLayouts = buildTimestampLayouts()

func buildTimestampLayouts() []string {
	clocks := []string{"T15:04:05", "T15:04", "T15"}
	offsets := []string{"", "-07:00", "-0700", "-07"}

	layouts := make([]string, 0, len(clocks)*len(offsets)+1)
	for _, clock := range clocks {
		for _, offset := range offsets {
			layouts = append(layouts, "2006-01-02"+clock+offset)
		}
	}
	return append(layouts, "2006-01-02")
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z is read as +00:00,
// values without an offset are taken as UTC, and the result is always UTC.
func ParseTimestamp(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	if last := s[len(s)-1]; last == 'Z' || last == 'z' {
		s = s[:len(s)-1] + "+00:00"
	}
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// FormatTimestamp renders t as ISO-8601 with an explicit UTC offset and
// microseconds only when present.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		return t.Format(isoMicroseconds)
	}
	return t.Format(isoSeconds)
}

// FormatDisplayTime is the short form used in map popups
func FormatDisplayTime(t time.Time) string {
	return t.UTC().Format(displayLayout)
}
