package period

import (
	"fmt"
	"time"
)

// Clock supplies "now" and the zone whose wall calendar decides what today is.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func (c Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Today is the local calendar date expressed as UTC midnight, so it compares
// directly against DateOnly values.
func (c Clock) Today() time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := c.now().In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// CurrentPeriod is the UTC calendar month of now.
func (c Clock) CurrentPeriod() Period {
	return Of(c.now().UTC())
}

// Resolve turns optional month/year query values into a period; zero means
// omitted and falls back to the current UTC month/year.
func Resolve(c Clock, month, year int) (Period, error) {
	cur := c.CurrentPeriod()
	if month == 0 {
		month = int(cur.Month)
	}
	if year == 0 {
		year = cur.Year
	}
	return New(year, month)
}

// ResolveRange parses from/to (YYYY-MM). An empty to means the current month;
// an empty from means eleven months before to.
func ResolveRange(c Clock, from, to string) ([]Period, error) {
	var (
		end   Period
		start Period
		err   error
	)
	if to == "" {
		end = c.CurrentPeriod()
	} else if end, err = Parse(to); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if from == "" {
		start = end.AddMonths(-11)
	} else if start, err = Parse(from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	return Range(start, end)
}

// LoadLocation resolves a zone name, treating "" as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
