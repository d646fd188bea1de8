package collection

import (
	"time"

	"github.com/kimhsiao/babylog/internal/models"
)

// Range is an inclusive time window, Start through End.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day returns the local day containing date: midnight to 23:59:59.999.
func Day(date time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.Local
	}
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Millisecond)}
}

// Month returns the local calendar month: the first day 00:00 to the last
// day 23:59:59.999.
func Month(year int, month time.Month, loc *time.Location) Range {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Millisecond)}
}

// Contains reports whether t lies in the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ContainsMillis is Contains for a unix millisecond timestamp.
func (r Range) ContainsMillis(ms int64) bool {
	return ms >= r.Start.UnixMilli() && ms <= r.End.UnixMilli()
}

// ContainsDate reports whether a YYYY-MM-DD date falls on a day of the range.
func (r Range) ContainsDate(date string) bool {
	start, end := r.dates()
	return date >= start && date <= end
}

// Equal reports whether both ranges cover the same instants.
func (r Range) Equal(o Range) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r Range) dates() (string, string) {
	return models.FormatDate(r.Start), models.FormatDate(r.End)
}

// bounds renders the range for a column of the given kind.
func (r Range) bounds(kind ColumnKind) (any, any) {
	if kind == KindDate {
		start, end := r.dates()
		return start, end
	}
	return r.Start.UnixMilli(), r.End.UnixMilli()
}
