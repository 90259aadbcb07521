package order

import (
	"fmt"
	"strings"
	"time"
)

// RangeFilter selects the calendar period used by admin order reports.
type RangeFilter string

const (
	RangeDaily   RangeFilter = "daily"
	RangeWeekly  RangeFilter = "weekly"
	RangeMonthly RangeFilter = "monthly"
	RangeYearly  RangeFilter = "yearly"
)

// ParseRangeFilter returns the RangeFilter named by s. An empty string means
// daily.
func ParseRangeFilter(s string) (RangeFilter, error) {
	switch f := RangeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return RangeDaily, nil
	case RangeDaily, RangeWeekly, RangeMonthly, RangeYearly:
		return f, nil
	default:
		return "", &ValidationError{Field: "filter", Reason: fmt.Sprintf("unsupported filter %q", s)}
	}
}

// Bounds returns the inclusive start and end of the period containing t, in
// t's location. Weeks start on Sunday.
func (f RangeFilter) Bounds(t time.Time) (start, end time.Time) {
	y, m, d := t.Date()
	loc := t.Location()

	var next time.Time
	switch f {
	case RangeYearly:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(1, 0, 0)
	case RangeMonthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 1, 0)
	case RangeWeekly:
		start = time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
		next = start.AddDate(0, 0, 7)
	default:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 0, 1)
	}
	return start, next.Add(-time.Nanosecond)
}
