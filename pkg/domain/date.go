package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical textual form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day in canonical YYYY-MM-DD form. The zero value is not a
// valid date; construct dates with ParseDate or DateOf.
type Date string

// ParseDate validates s as a canonical calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, s)
	}
	// time.Parse accepts some non-canonical spellings; round trip to reject them.
	if t.Format(DateLayout) != s {
		return "", fmt.Errorf("%w: date %q is not canonical", ErrInvalidInput, s)
	}
	return Date(s), nil
}

// MustParseDate is ParseDate for literals known to be valid. It panics otherwise.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(DateLayout))
}

// Time returns midnight UTC of the date. Calendar arithmetic is done in UTC so
// daylight saving transitions never shorten or lengthen a day.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n calendar days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}

// Before reports whether d is strictly earlier than other. Canonical dates
// order lexically, so this is a string comparison.
func (d Date) Before(other Date) bool { return d < other }

// Within reports whether d lies in the inclusive interval [from, to].
func (d Date) Within(from, to Date) bool { return d >= from && d <= to }

func (d Date) String() string { return string(d) }
