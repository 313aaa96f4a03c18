// Package elapsed renders how long an in-flight job has been running.
//
// Backend timestamps are loosely formatted: the date and time may be split by a
// space, the zone designator may be missing, lowercase or written without a
// colon, and fractional seconds may carry microsecond precision.
// ParseTimestamp normalizes all of these before parsing. Anything unparseable or in the future
// renders as "0s" rather than an error.
package elapsed

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	reDateTime      = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ t]+(\d)`)
	reFraction      = regexp.MustCompile(`\.(\d+)`)
	reCompactOffset = regexp.MustCompile(`([+-]\d{2})(\d{2})$`)
	reZone          = regexp.MustCompile(`(Z|[+-]\d{2}:\d{2})$`)
)

// ParseTimestamp truncates fractional seconds to millisecond precision and
// assumes UTC when no zone designator is present.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	s = reDateTime.ReplaceAllString(s, "${1}T${2}")
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	s = reCompactOffset.ReplaceAllString(s, "${1}:${2}")
	s = reFraction.ReplaceAllStringFunc(s, func(frac string) string {
		if len(frac) > 4 {
			return frac[:4]
		}
		return frac
	})
	if !reZone.MatchString(s) {
		s += "Z"
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Format returns the compact duration between start and now.
func Format(start string, now time.Time) string {
	t, err := ParseTimestamp(start)
	if err != nil {
		return "0s"
	}
	return FormatDuration(now.Sub(t))
}

// FormatDuration renders d as "45s", "2m 5s" or "1h 2m". Negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
