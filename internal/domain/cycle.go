package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ForecastHour is an offset in hours from a cycle's reference time.
type ForecastHour int

// String renders the hour the way GEFS file names do, e.g. "f006".
func (fh ForecastHour) String() string {
	return fmt.Sprintf("f%03d", int(fh))
}

// Cycle identifies one run of the upstream ensemble model.
type Cycle struct {
	Date time.Time // midnight UTC of the cycle date
	Hour int       // 0, 6, 12 or 18
}

// ParseCycle builds a Cycle from a YYYYMMDD date and a two-digit hour.
func ParseCycle(date, hour string) (Cycle, error) {
	d, err := time.ParseInLocation("20060102", date, time.UTC)
	if err != nil {
		return Cycle{}, fmt.Errorf("parse cycle date %q: %w", date, err)
	}
	h, err := ParseCycleHour(hour)
	if err != nil {
		return Cycle{}, err
	}
	return Cycle{Date: d, Hour: h}, nil
}

// ParseCycleHour validates a cycle hour such as "00" or "12".
func ParseCycleHour(hour string) (int, error) {
	h, err := strconv.Atoi(hour)
	if err != nil || (h != 0 && h != 6 && h != 12 && h != 18) {
		return 0, fmt.Errorf("invalid cycle hour %q: must be one of 00, 06, 12, 18", hour)
	}
	return h, nil
}

// CycleAt returns the cycle with the given hour on t's UTC calendar date.
func CycleAt(t time.Time, hour int) Cycle {
	u := t.UTC()
	return Cycle{
		Date: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC),
		Hour: hour,
	}
}

// ReferenceTime is the analysis time of the cycle.
func (c Cycle) ReferenceTime() time.Time {
	return c.Date.Add(time.Duration(c.Hour) * time.Hour)
}

// ValidTime is the time a forecast hour of this cycle describes.
func (c Cycle) ValidTime(fh ForecastHour) time.Time {
	return c.ReferenceTime().Add(time.Duration(fh) * time.Hour)
}

// DateString formats the cycle date as YYYYMMDD.
func (c Cycle) DateString() string {
	return c.Date.Format("20060102")
}

// HourString formats the cycle hour as two digits.
func (c Cycle) HourString() string {
	return fmt.Sprintf("%02d", c.Hour)
}

func (c Cycle) String() string {
	return c.DateString() + "/" + c.HourString() + "Z"
}

// Cadence describes the forecast-hour schedule: a dense short-range segment
// from hour 0 followed by a sparse long-range segment.
type Cadence struct {
	DenseEnd   int
	DenseStep  int
	SparseEnd  int
	SparseStep int
}

// DefaultCadence is the GEFS pgrb2a horizon: 0-192h every 3h, then 198-834h every 6h.
var DefaultCadence = Cadence{DenseEnd: 192, DenseStep: 3, SparseEnd: 834, SparseStep: 6}

// Validate checks that the cadence describes a non-empty, increasing schedule.
func (c Cadence) Validate() error {
	if c.DenseStep <= 0 || c.SparseStep <= 0 {
		return errors.New("cadence steps must be positive")
	}
	if c.DenseEnd < 0 {
		return errors.New("dense cadence end must not be negative")
	}
	if c.SparseEnd < c.DenseEnd {
		return errors.New("sparse cadence end must not precede dense end")
	}
	return nil
}

// Hours returns the strictly increasing forecast-hour schedule.
func (c Cadence) Hours() []ForecastHour {
	if c.Validate() != nil {
		return nil
	}
	hours := make([]ForecastHour, 0, c.DenseEnd/c.DenseStep+1+(c.SparseEnd-c.DenseEnd)/c.SparseStep)
	for h := 0; h <= c.DenseEnd; h += c.DenseStep {
		hours = append(hours, ForecastHour(h))
	}
	for h := c.DenseEnd + c.SparseStep; h <= c.SparseEnd; h += c.SparseStep {
		hours = append(hours, ForecastHour(h))
	}
	return hours
}
