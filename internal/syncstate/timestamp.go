package syncstate

import (
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses a remote timestamp. Values without a zone are UTC.
// ok is false for empty or unparseable input.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// CompareTimestamps orders raw timestamps by instant. Missing or
// unparseable values are equal to each other and older than any valid one.
func CompareTimestamps(a, b string) int {
	ta, oka := ParseTimestamp(a)
	tb, okb := ParseTimestamp(b)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	}
	return ta.Compare(tb)
}

// TimestampsEqual reports whether a and b denote the same instant, so
// "2024-01-01T00:00:00Z" equals "2024-01-01T00:00:00+00:00".
func TimestampsEqual(a, b string) bool {
	return CompareTimestamps(a, b) == 0
}
