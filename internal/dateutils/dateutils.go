// Package dateutils provides the date handling used by the importer and the
// matching engine. Statement imports parse against one configured format and
// reject ambiguous values instead of guessing.
package dateutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Statement date formats accepted by the importer.
const (
	FormatISO = "YYYY-MM-DD"
	FormatEU  = "DD/MM/YYYY"
	FormatUS  = "MM/DD/YYYY"
)

var layouts = map[string]string{
	FormatISO: "2006-01-02",
	FormatEU:  "02/01/2006",
	FormatUS:  "01/02/2006",
}

// KnownFormat reports whether format is one of the supported statement formats.
func KnownFormat(format string) bool {
	_, ok := layouts[format]
	return ok
}

// ParseStatementDate parses a statement date string against the configured
// format. For the slash formats, a value whose day and month parts are both
// 12 or less carries no information about which format the bank used; such
// rows are rejected when the caller did not explicitly pin a format.
func ParseStatementDate(value, format string, formatExplicit bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	layout, ok := layouts[format]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported date format %q", format)
	}

	if !formatExplicit && (format == FormatEU || format == FormatUS) {
		if ambiguous(value) {
			return time.Time{}, fmt.Errorf("ambiguous date %q: day and month are interchangeable, configure the account date format", value)
		}
	}

	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q does not match %s: %w", value, format, err)
	}
	return t, nil
}

// ambiguous reports whether a DD/MM vs MM/DD value cannot be told apart.
func ambiguous(value string) bool {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return false
	}
	first, err1 := strconv.Atoi(parts[0])
	second, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return first <= 12 && second <= 12 && first != second
}

// DayOnly truncates a time to midnight UTC so comparisons ignore clock time.
func DayOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return DayOnly(a).Equal(DayOnly(b))
}

// DaysApart returns the absolute distance between two dates in calendar days.
func DaysApart(a, b time.Time) int {
	d := DayOnly(a).Sub(DayOnly(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
