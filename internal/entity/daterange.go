package entity

import (
	"fmt"
	"time"

	"github.com/franz/fpvscan/internal/util"
)

// DateLayout is the YYYY-MM-DD layout used on the command line, in chat
// commands and in the database
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as midnight UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", util.ErrInvalidDate, s)
	}
	return t, nil
}

// Today returns the current local date as midnight UTC
func Today() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive range of collection dates. A zero bound is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SingleDay returns a range covering exactly one date
func SingleDay(d time.Time) DateRange {
	return DateRange{Start: d, End: d}
}

// ParseDateRange builds a range from optional YYYY-MM-DD strings
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if start != "" {
		if r.Start, err = ParseDate(start); err != nil {
			return DateRange{}, err
		}
	}
	if end != "" {
		if r.End, err = ParseDate(end); err != nil {
			return DateRange{}, err
		}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return r, nil
}

// Contains reports whether day falls in the range. Sessions without a
// parseable date (zero day) are never in range.
func (r DateRange) Contains(day time.Time) bool {
	if day.IsZero() {
		return false
	}
	if !r.Start.IsZero() && day.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && day.After(r.End) {
		return false
	}
	return true
}

// IsOpen reports whether neither bound is set
func (r DateRange) IsOpen() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// StartString returns the start bound as YYYY-MM-DD, or "" when open
func (r DateRange) StartString() string {
	return formatDay(r.Start)
}

// EndString returns the end bound as YYYY-MM-DD, or "" when open
func (r DateRange) EndString() string {
	return formatDay(r.End)
}

// String renders the range as "start ~ end", or a single date when both
// bounds are equal
func (r DateRange) String() string {
	switch {
	case r.IsOpen():
		return "all"
	case r.Start.Equal(r.End):
		return r.StartString()
	default:
		s, e := r.StartString(), r.EndString()
		if s == "" {
			s = "..."
		}
		if e == "" {
			e = "..."
		}
		return s + " ~ " + e
	}
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
