// Package period defines the calendar-month reporting interval that keys
// every destination table. The month key doubles as the deduplication key
// for idempotent inserts.
package period

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Month is a calendar-month reporting period.
type Month struct {
	Year  int
	Month time.Month
}

// Previous returns the full calendar month immediately preceding now's month.
func Previous(now time.Time) Month {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, -1)
	return Month{Year: last.Year(), Month: last.Month()}
}

// Parse parses a month key in YYYYMM form, e.g. "202405".
func Parse(key string) (Month, error) {
	t, err := time.Parse("200601", key)
	if err != nil {
		return Month{}, fmt.Errorf("Parse: invalid month key %q: %w", key, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// Key returns the YYYYMM deduplication key stored in the month column.
func (m Month) Key() string {
	return fmt.Sprintf("%04d%02d", m.Year, int(m.Month))
}

// Start returns the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month in UTC.
// Period bounds are half-open: [Start, End).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

// StartDate returns the first day of the month as a civil date.
func (m Month) StartDate() civil.Date {
	return civil.DateOf(m.Start())
}

// String implements fmt.Stringer.
func (m Month) String() string {
	return m.Key()
}
