package domain

import (
	"cmp"
	"math"
	"slices"
)

// ReportRow is a daily record with the derivations consumers need: wind
// speed and direction from the u/v components, and precipitation scaled to
// millimetres.
type ReportRow struct {
	Location         string   `json:"location"`
	State            string   `json:"state"`
	Day              string   `json:"day"`
	TemperatureC     *float64 `json:"temperature_c"`
	PrecipitationMM  *float64 `json:"precipitation_mm"`
	WindU            *float64 `json:"u10"`
	WindV            *float64 `json:"v10"`
	WindSpeed        *float64 `json:"wind_speed"`
	WindDirectionDeg *float64 `json:"wind_direction_deg"`
}

// LocationSummary condenses a location's daily rows across the horizon.
type LocationSummary struct {
	Location           string   `json:"location"`
	State              string   `json:"state"`
	Days               int      `json:"days"`
	MeanTemperatureC   *float64 `json:"mean_temperature_c"`
	TotalPrecipitation *float64 `json:"total_precipitation_mm"`
	MeanWindSpeed      *float64 `json:"mean_wind_speed"`
}

// WindSpeed is the magnitude of the (u, v) wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Hypot(u, v)
}

// WindDirection maps atan2(u, v) into the 0-360 degree range.
func WindDirection(u, v float64) float64 {
	return math.Mod(math.Atan2(u, v)*180/math.Pi+180, 360)
}

// NewReportRow derives a report row from a daily record. precipScale
// converts the native precipitation unit to millimetres.
func NewReportRow(rec DailyRecord, precipScale float64) ReportRow {
	row := ReportRow{
		Location:     rec.Location.Name,
		State:        rec.Location.State,
		Day:          rec.Day.Format(DayLayout),
		TemperatureC: rec.Temperature,
		WindU:        rec.WindU,
		WindV:        rec.WindV,
	}
	if rec.Precipitation != nil {
		mm := *rec.Precipitation * precipScale
		row.PrecipitationMM = &mm
	}
	if rec.WindU != nil && rec.WindV != nil {
		speed := WindSpeed(*rec.WindU, *rec.WindV)
		dir := WindDirection(*rec.WindU, *rec.WindV)
		row.WindSpeed = &speed
		row.WindDirectionDeg = &dir
	}
	return row
}

// Summarize builds one summary per location, ordered by name then state.
func Summarize(rows []ReportRow) []LocationSummary {
	type acc struct {
		summary LocationSummary
		temp    runningMean
		precip  runningMean
		wind    runningMean
	}

	byKey := make(map[string]*acc)
	var keys []string
	for _, r := range rows {
		key := r.State + "|" + r.Location
		a, ok := byKey[key]
		if !ok {
			a = &acc{summary: LocationSummary{Location: r.Location, State: r.State}}
			byKey[key] = a
			keys = append(keys, key)
		}
		a.summary.Days++
		a.temp.add(r.TemperatureC)
		a.precip.add(r.PrecipitationMM)
		a.wind.add(r.WindSpeed)
	}

	out := make([]LocationSummary, 0, len(keys))
	for _, k := range keys {
		a := byKey[k]
		a.summary.MeanTemperatureC = a.temp.mean()
		a.summary.TotalPrecipitation = a.precip.total()
		a.summary.MeanWindSpeed = a.wind.mean()
		out = append(out, a.summary)
	}
	slices.SortFunc(out, func(x, y LocationSummary) int {
		return cmp.Or(cmp.Compare(x.Location, y.Location), cmp.Compare(x.State, y.State))
	})
	return out
}
