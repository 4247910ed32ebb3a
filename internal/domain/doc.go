// Package domain models ensemble forecast data for a fixed set of
// municipalities and the reductions applied to it.
//
// # Data Source
//
// Forecast fields come from the NOAA Global Ensemble Forecast System (GEFS),
// published in the public noaa-gefs-pds bucket. One GRIB2 file exists per
// cycle and forecast hour:
//
//	gefs.YYYYMMDD/HH/atmos/pgrb2ap5/geavg.tHHz.pgrb2a.0p50.fFFF
//
// "geavg" is the ensemble mean, on a 0.5 degree global latitude/longitude grid.
// Latitudes run north to south (90 to -90) and longitudes use the 0-360
// convention, so a location at -50.0 is looked up at 310.0.
//
// # Fields
//
// Four fields are extracted by exact metadata match (short name, level type,
// level value):
//
//	t2m  "2t"  heightAboveGround 2   temperature in kelvin
//	tp   "tp"  surface               precipitation accumulated since cycle start (kg m-2)
//	u10  "10u" heightAboveGround 10  eastward wind (m/s)
//	v10  "10v" heightAboveGround 10  northward wind (m/s)
//
// Any subset may be present in a given file. [FieldSet] carries each one as an
// independently optional grid.
//
// # Forecast Horizon
//
// Forecast hours are dense (every 3h) up to 192h and sparse (every 6h) from
// 198h to 834h. See [Cadence].
//
// # Daily Reduction
//
// Hourly point values are reduced to one row per location and UTC calendar
// day by [Aggregate]. Cumulative precipitation is differenced into per-step
// increments (negative increments clamp to zero) and summed; temperature and
// wind components are averaged. Temperature is converted to Celsius only at
// this final step.
package domain
