package timeseries

import "errors"

var (
	// ErrNilSeries is returned when a nil series is stored or validated.
	ErrNilSeries = errors.New("timeseries: nil series")
	// ErrEmptySeriesID is returned when a series has no identifier.
	ErrEmptySeriesID = errors.New("timeseries: empty timeSeriesId")
	// ErrInvalidResolution is returned for unrecognized resolutions.
	ErrInvalidResolution = errors.New("timeseries: invalid resolution")
	// ErrInvalidPeriod is returned when the period is empty or inverted.
	ErrInvalidPeriod = errors.New("timeseries: invalid period")
	// ErrPartitionMismatch is returned when intervals do not tile the period.
	ErrPartitionMismatch = errors.New("timeseries: intervals do not partition period")
	// ErrNotFound is returned when a series does not exist.
	ErrNotFound = errors.New("timeseries: not found")
)
