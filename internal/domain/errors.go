package domain

import "errors"

var (
	// ErrFileUnavailable reports that a forecast file could not be retrieved.
	ErrFileUnavailable = errors.New("forecast file unavailable")

	// ErrNoUsableData reports that none of the canonical fields could be
	// extracted from a forecast file.
	ErrNoUsableData = errors.New("no usable data in forecast file")

	// ErrNoForecastData reports that no forecast hour of a run produced any
	// hourly record.
	ErrNoForecastData = errors.New("no forecast hour produced usable data")
)
