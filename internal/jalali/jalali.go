// Package jalali adapts the Solar Hijri (Jalali) calendar used by
// Persian-language sources to Go's time.Time. Calendar arithmetic is done by
// ptime; this package adds validation, name lookup and text normalisation.
package jalali

import (
	"errors"
	"fmt"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"
)

// Month is a Jalali month, 1 (Farvardin) through 12 (Esfand).
type Month = ptime.Month

// Date is a calendar date in the Jalali calendar.
type Date struct {
	Year  int
	Month Month
	Day   int
}

// ErrOutOfRange is returned for day, month or year values that do not exist.
var ErrOutOfRange = errors.New("jalali date out of range")

// Validate checks that d names an existing day. ptime normalises overflow
// the way time.Date does, so a date is valid when it survives a round trip.
func (d Date) Validate() error {
	if d.Year < 1 || d.Month < ptime.Farvardin || d.Month > ptime.Esfand {
		return fmt.Errorf("%w: %d/%d", ErrOutOfRange, d.Year, int(d.Month))
	}
	pt := ptime.New(ptime.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Time())
	if pt.Year() != d.Year || pt.Month() != d.Month || pt.Day() != d.Day {
		return fmt.Errorf("%w: day %d of month %d", ErrOutOfRange, d.Day, int(d.Month))
	}
	return nil
}

// IsLeap reports whether Esfand of year jy has 30 days.
func IsLeap(jy int) bool {
	return Date{Year: jy, Month: ptime.Esfand, Day: 30}.Validate() == nil
}

// In returns the wall-clock moment hour:minute on d in loc.
func (d Date) In(hour, minute int, loc *time.Location) (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: time %02d:%02d", ErrOutOfRange, hour, minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	g := ptime.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Time()
	return time.Date(g.Year(), g.Month(), g.Day(), hour, minute, 0, 0, loc), nil
}

// FromTime returns the Jalali date of t's wall clock in t's location.
func FromTime(t time.Time) (Date, error) {
	pt := ptime.New(time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC))
	d := Date{Year: pt.Year(), Month: pt.Month(), Day: pt.Day()}
	if d.Year < 1 {
		return Date{}, fmt.Errorf("%w: %s", ErrOutOfRange, t.Format(time.DateOnly))
	}
	return d, nil
}

// String formats d as YYYY/MM/DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, int(d.Month), d.Day)
}
