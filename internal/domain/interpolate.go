package domain

import (
	"math"
	"time"
)

// HourlyRecord is one location's interpolated values at one forecast hour.
// Absent variables are nil.
type HourlyRecord struct {
	Location      Location
	ForecastHour  ForecastHour
	ValidTime     time.Time
	Temperature   *float64 // kelvin
	Precipitation *float64 // accumulated since cycle start
	WindU         *float64
	WindV         *float64
}

// Value returns the record's value for v, or nil when it is absent.
func (r HourlyRecord) Value(v Variable) *float64 {
	switch v {
	case VarTemperature:
		return r.Temperature
	case VarPrecipitation:
		return r.Precipitation
	case VarWindU:
		return r.WindU
	case VarWindV:
		return r.WindV
	}
	return nil
}

func (r *HourlyRecord) setValue(v Variable, x *float64) {
	switch v {
	case VarTemperature:
		r.Temperature = x
	case VarPrecipitation:
		r.Precipitation = x
	case VarWindU:
		r.WindU = x
	case VarWindV:
		r.WindV = x
	}
}

// InterpolateToLocations bilinearly interpolates every present field onto each
// location. A variable that falls outside its grid is left nil; a location
// with no value for any variable produces no record.
func InterpolateToLocations(fs FieldSet, locations []Location, validTime time.Time, fh ForecastHour) []HourlyRecord {
	grids := make(map[Variable]Grid, len(CanonicalVariables))
	for _, v := range fs.Present() {
		grids[v] = fs.Get(v).LatAscending()
	}

	records := make([]HourlyRecord, 0, len(locations))
	for _, loc := range locations {
		lon := NormalizeLongitude(loc.Lon)
		rec := HourlyRecord{Location: loc, ForecastHour: fh, ValidTime: validTime}
		found := false
		for _, v := range CanonicalVariables {
			g, ok := grids[v]
			if !ok {
				continue
			}
			x := g.Bilinear(loc.Lat, lon)
			if math.IsNaN(x) {
				continue
			}
			rec.setValue(v, &x)
			found = true
		}
		if found {
			records = append(records, rec)
		}
	}
	return records
}
