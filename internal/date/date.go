// Package date provides a Date type that marshals as YYYY-MM-DD.
//
// A Date is a calendar day with no time of day and no timezone. It is stored
// as midnight UTC so that day arithmetic never crosses a DST boundary. Instants
// are converted to dates only through Of, which takes the calendar day in the
// instant's own location.
package date

import (
	"encoding/json"
	"fmt"
	"time"

	"go.yaml.in/yaml/v3"
)

const format = "2006-01-02"

const hoursPerDay = 24

// Date represents a calendar date without time or timezone.
type Date struct {
	time.Time
}

// New creates a Date from year, month, day. Out-of-range values are
// normalized the way time.Date normalizes them.
func New(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Of returns the calendar date of t in t's location.
func Of(t time.Time) Date {
	return New(t.Year(), t.Month(), t.Day())
}

// Today returns today's date in the local timezone.
func Today() Date {
	return Of(time.Now())
}

// Parse parses a YYYY-MM-DD string into a Date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(format, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(format)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

// AddMonths returns the date n months after d. The day is clamped to the
// last day of the target month, so Jan 31 + 1 month is Feb 28 (or 29).
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Date()
	first := New(y, m+time.Month(n), 1)
	last := DaysIn(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return New(first.Year(), first.Month(), day)
}

// DaysUntil returns the number of calendar days from d to other.
// Negative when other is before d.
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours()) / hoursPerDay
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after other.
func (d Date) Compare(other Date) int {
	return d.Time.Compare(other.Time)
}

// Equal reports whether d and other are the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// StartOfWeek returns the Monday on or before d.
func (d Date) StartOfWeek() Date {
	offset := (int(d.Weekday()) + 6) % 7 //nolint:mnd // Monday-based weekday index
	return d.AddDays(-offset)
}

// In returns midnight of d in loc. Used at the display boundary only.
func (d Date) In(loc *time.Location) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return New(year, month+1, 0).Day()
}

// MarshalYAML implements yaml.Marshaler.
func (d Date) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.v3 Unmarshaler.
func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := Parse(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
