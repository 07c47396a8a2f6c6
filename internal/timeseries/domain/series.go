package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	formula "mabis-registry/internal/formula/domain"
)

// Quality flags carried by intervals.
const (
	QualityValidated  = "VALIDATED"
	QualityEstimated  = "ESTIMATED"
	QualityCalculated = "CALCULATED"
)

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Intersect returns the overlap of two periods.
func (p Period) Intersect(other Period) Period {
	start := p.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := p.End
	if other.End.Before(end) {
		end = other.End
	}
	if !end.After(start) {
		return Period{}
	}
	return Period{Start: start, End: end}
}

// IsZero reports whether the period is empty.
func (p Period) IsZero() bool {
	return p.Start.IsZero() || p.End.IsZero() || !p.End.After(p.Start)
}

// Interval is one fixed-resolution slice of a series. Quantity travels as a
// decimal string on the wire to avoid floating-point round-trip loss.
type Interval struct {
	Position int             `json:"position"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Quantity decimal.Decimal `json:"quantity"`
	Quality  string          `json:"quality"`
}

// TimeSeries is a metered or calculated quantity over a period.
type TimeSeries struct {
	TimeSeriesID     string         `json:"timeSeriesId"`
	MarketLocationID string         `json:"marketLocationId"`
	MeasurementType  string         `json:"measurementType,omitempty"`
	Unit             string         `json:"unit"`
	Resolution       string         `json:"resolution"`
	Period           Period         `json:"period"`
	Intervals        []Interval     `json:"intervals"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Validate checks the interval partition invariant: positions are 0-based,
// strictly increasing and gap-free, and interval boundaries tile
// [period.start, period.end) exactly at the declared resolution.
func (ts *TimeSeries) Validate() error {
	if ts == nil {
		return ErrNilSeries
	}
	if ts.TimeSeriesID == "" {
		return ErrEmptySeriesID
	}
	step, ok := formula.ParseResolution(ts.Resolution)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, ts.Resolution)
	}
	if ts.Period.IsZero() {
		return ErrInvalidPeriod
	}
	span := ts.Period.End.Sub(ts.Period.Start)
	if span%step != 0 {
		return fmt.Errorf("%w: period %s is not a multiple of %s", ErrPartitionMismatch, span, ts.Resolution)
	}
	expected := int(span / step)
	if len(ts.Intervals) != expected {
		return fmt.Errorf("%w: got %d intervals, period requires %d", ErrPartitionMismatch, len(ts.Intervals), expected)
	}
	cursor := ts.Period.Start
	for i, interval := range ts.Intervals {
		if interval.Position != i {
			return fmt.Errorf("%w: interval %d carries position %d", ErrPartitionMismatch, i, interval.Position)
		}
		if !interval.Start.Equal(cursor) {
			return fmt.Errorf("%w: interval %d starts at %s, expected %s", ErrPartitionMismatch, i, interval.Start.Format(time.RFC3339), cursor.Format(time.RFC3339))
		}
		next := cursor.Add(step)
		if !interval.End.Equal(next) {
			return fmt.Errorf("%w: interval %d ends at %s, expected %s", ErrPartitionMismatch, i, interval.End.Format(time.RFC3339), next.Format(time.RFC3339))
		}
		cursor = next
	}
	return nil
}

// Slice returns the intervals fully contained in period, preserving order.
func (ts *TimeSeries) Slice(period Period) []Interval {
	if ts == nil || period.IsZero() {
		return nil
	}
	out := make([]Interval, 0, len(ts.Intervals))
	for _, interval := range ts.Intervals {
		if interval.Start.Before(period.Start) || interval.End.After(period.End) {
			continue
		}
		out = append(out, interval)
	}
	return out
}

// Clone returns a deep copy.
func (ts *TimeSeries) Clone() *TimeSeries {
	if ts == nil {
		return nil
	}
	copy := *ts
	copy.Intervals = append([]Interval(nil), ts.Intervals...)
	if ts.Metadata != nil {
		copy.Metadata = make(map[string]any, len(ts.Metadata))
		for k, v := range ts.Metadata {
			copy.Metadata[k] = v
		}
	}
	return &copy
}

// Filter narrows a repository listing.
type Filter struct {
	MarketLocationID string
	Limit            int
}

// Repository persists time series.
type Repository interface {
	Save(ctx context.Context, series *TimeSeries) error
	Get(ctx context.Context, id string) (*TimeSeries, error)
	List(ctx context.Context, filter Filter) ([]*TimeSeries, error)
	Count(ctx context.Context) (int, error)
}
