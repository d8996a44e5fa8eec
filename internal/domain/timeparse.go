package domain

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// ParseTime parses caller-supplied timestamps in RFC 3339 or plain date form.
// A plain date is midnight UTC.
func ParseTime(s string) (time.Time, error) {
	t, _, err := parseTime(s)
	return t, err
}

// ParseEndTime parses an inclusive upper bound. A plain date covers the whole
// day, so it resolves to the last instant of that day.
func ParseEndTime(s string) (time.Time, error) {
	t, layout, err := parseTime(s)
	if err != nil {
		return t, err
	}
	if layout == dateLayout {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func parseTime(s string) (time.Time, string, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, layout, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("%w: unable to parse timestamp %q", ErrInvalidRequest, s)
}
