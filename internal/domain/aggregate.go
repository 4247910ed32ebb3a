package domain

import (
	"cmp"
	"slices"
	"time"
)

// KelvinOffset converts kelvin to degrees Celsius.
const KelvinOffset = 273.15

// DailyRecord is one location's summary for one UTC calendar day.
// A variable with no contributing hourly value is nil.
type DailyRecord struct {
	Location      Location
	Day           time.Time
	Temperature   *float64 // mean, Celsius
	Precipitation *float64 // sum of non-negative increments, native unit
	WindU         *float64 // mean
	WindV         *float64 // mean
	Samples       int
}

// AggregateStats describes one aggregation pass.
type AggregateStats struct {
	HourlyRecords int
	DailyRecords  int
	// PrecipClamped counts negative precipitation increments that were
	// clamped to zero.
	PrecipClamped int
}

// Aggregate reduces hourly records to one DailyRecord per (location, day).
//
// Records are sorted by location and valid time first, so the result does
// not depend on input order. Within each location, cumulative precipitation
// is differenced against the previous record that carried a value (the first
// value is its own increment) and negative increments are clamped to zero.
// Temperature and wind are averaged per day; precipitation increments are
// summed. Temperature is converted from kelvin to Celsius last.
func Aggregate(records []HourlyRecord) ([]DailyRecord, AggregateStats) {
	stats := AggregateStats{HourlyRecords: len(records)}
	if len(records) == 0 {
		return nil, stats
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, compareHourly)

	var (
		daily   []DailyRecord
		current *dayBucket
		prevKey string
		lastCum *float64
	)

	for i := range sorted {
		rec := &sorted[i]
		key := rec.Location.Key()
		if key != prevKey {
			lastCum = nil
			prevKey = key
		}

		var increment *float64
		if p := rec.Precipitation; p != nil {
			inc := *p
			if lastCum != nil {
				inc = *p - *lastCum
			}
			if inc < 0 {
				inc = 0
				stats.PrecipClamped++
			}
			increment = &inc
			lastCum = p
		}

		day := truncateDay(rec.ValidTime)
		if current == nil || current.key != key || !current.day.Equal(day) {
			if current != nil {
				daily = append(daily, current.reduce())
			}
			current = &dayBucket{key: key, location: rec.Location, day: day}
		}
		current.add(rec, increment)
	}
	daily = append(daily, current.reduce())

	stats.DailyRecords = len(daily)
	return daily, stats
}

// compareHourly orders records by location (name, then state) and time.
func compareHourly(a, b HourlyRecord) int {
	return cmp.Or(
		cmp.Compare(a.Location.Name, b.Location.Name),
		cmp.Compare(a.Location.State, b.Location.State),
		a.ValidTime.Compare(b.ValidTime),
		cmp.Compare(a.ForecastHour, b.ForecastHour),
	)
}

// truncateDay returns midnight UTC of t's calendar day, matching the UTC
// reference time of GEFS cycles.
func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type runningMean struct {
	sum float64
	n   int
}

func (m *runningMean) add(x *float64) {
	if x == nil {
		return
	}
	m.sum += *x
	m.n++
}

func (m runningMean) mean() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func (m runningMean) total() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum
	return &v
}

type dayBucket struct {
	key      string
	location Location
	day      time.Time
	temp     runningMean
	precip   runningMean
	windU    runningMean
	windV    runningMean
	samples  int
}

func (b *dayBucket) add(rec *HourlyRecord, increment *float64) {
	b.temp.add(rec.Temperature)
	b.precip.add(increment)
	b.windU.add(rec.WindU)
	b.windV.add(rec.WindV)
	b.samples++
}

func (b *dayBucket) reduce() DailyRecord {
	temp := b.temp.mean()
	if temp != nil {
		*temp -= KelvinOffset
	}
	return DailyRecord{
		Location:      b.location,
		Day:           b.day,
		Temperature:   temp,
		Precipitation: b.precip.total(),
		WindU:         b.windU.mean(),
		WindV:         b.windV.mean(),
		Samples:       b.samples,
	}
}

// DayLayout is the calendar-day format used in persisted and reported rows.
const DayLayout = "2006-01-02"
