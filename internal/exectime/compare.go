package exectime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a stamp matches none of the accepted
// layouts.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Layouts accepted for header.date and metadata.started. Older kernels omit
// the zone designator; those stamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a kernel date stamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// IsAfter reports whether candidate strictly follows reference. A zero
// candidate never follows anything; a zero reference is preceded by every
// stamped candidate.
func IsAfter(candidate, reference time.Time) bool {
	if candidate.IsZero() {
		return false
	}
	return candidate.After(reference)
}
