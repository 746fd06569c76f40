// Package period resolves reporting months and their UTC boundaries.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxSeriesMonths caps how many months a range may cover.
const MaxSeriesMonths = 36

var (
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidRange  = errors.New("invalid range")
)

// Period is one calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// New validates a month (1-12) and year.
func New(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range 1-12", ErrInvalidPeriod, month)
	}
	if year < 1970 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, year)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// Of returns the period containing t, using t's own location.
func Of(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Parse reads a YYYY-MM string.
func Parse(s string) (Period, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	return New(year, month)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last instant of the last day of the month in UTC.
func (p Period) End() time.Time {
	return p.Next().Start().Add(-time.Nanosecond)
}

// LastDay is the date (UTC midnight) of the month's last day.
func (p Period) LastDay() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) Next() Period {
	return p.AddMonths(1)
}

func (p Period) AddMonths(n int) Period {
	return Of(p.Start().AddDate(0, n, 0))
}

func (p Period) index() int {
	return p.Year*12 + int(p.Month) - 1
}

func (p Period) Before(q Period) bool { return p.index() < q.index() }
func (p Period) After(q Period) bool  { return p.index() > q.index() }

// Contains reports whether t falls in [Start, Next().Start()).
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.Next().Start())
}

// MonthsBetween counts the months from p to q inclusive.
func MonthsBetween(p, q Period) int {
	return q.index() - p.index() + 1
}

// Range lists every month from..to inclusive in chronological order.
func Range(from, to Period) ([]Period, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from, to)
	}
	n := MonthsBetween(from, to)
	if n > MaxSeriesMonths {
		return nil, fmt.Errorf("%w: %d months requested, maximum is %d", ErrInvalidRange, n, MaxSeriesMonths)
	}
	out := make([]Period, 0, n)
	for p := from; !p.After(to); p = p.Next() {
		out = append(out, p)
	}
	return out, nil
}

// DateOnly strips the time of day from t's UTC date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
