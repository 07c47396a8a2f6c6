package evaluation

import (
	"time"

	"github.com/shopspring/decimal"

	formula "mabis-registry/internal/formula/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

// gridFromSeries crops a bound series to the requested period. The series
// must fully cover the period at its own resolution.
func gridFromSeries(ts *timeseries.TimeSeries, period timeseries.Period) (*grid, *EvalError) {
	if ts == nil {
		return nil, evalErrorf(CodeUnboundReference, "nil series")
	}
	step, ok := formula.ParseResolution(ts.Resolution)
	if !ok {
		return nil, evalErrorf(CodeAlignment, "series %s has unrecognized resolution %q", ts.TimeSeriesID, ts.Resolution)
	}
	if period.IsZero() {
		return nil, evalErrorf(CodeAlignment, "empty evaluation period")
	}
	if ts.Period.Start.After(period.Start) || ts.Period.End.Before(period.End) {
		return nil, evalErrorf(CodeAlignment, "series %s does not cover period %s/%s",
			ts.TimeSeriesID, period.Start.Format(time.RFC3339), period.End.Format(time.RFC3339))
	}
	span := period.End.Sub(period.Start)
	if span%step != 0 {
		return nil, evalErrorf(CodeAlignment, "period %s is not a multiple of resolution %s", span, ts.Resolution)
	}
	expected := int(span / step)
	slice := ts.Slice(period)
	if len(slice) != expected {
		return nil, evalErrorf(CodeAlignment, "series %s has %d intervals in period, expected %d", ts.TimeSeriesID, len(slice), expected)
	}
	values := make([]decimal.Decimal, expected)
	cursor := period.Start
	for i, interval := range slice {
		if !interval.Start.Equal(cursor) {
			return nil, evalErrorf(CodeAlignment, "series %s has a gap at %s", ts.TimeSeriesID, cursor.Format(time.RFC3339))
		}
		values[i] = interval.Quantity
		cursor = cursor.Add(step)
	}
	return &grid{step: step, start: period.Start, values: values}, nil
}

// alignGrids brings all grids to a common resolution: the coarsest step
// present. Finer grids are downsampled by summation, which is only defined
// when resolutions divide evenly; anything else is an alignment failure.
func alignGrids(grids []*grid) ([]*grid, *EvalError) {
	if len(grids) == 0 {
		return nil, nil
	}
	target := grids[0].step
	for _, g := range grids[1:] {
		if g.step > target {
			target = g.step
		}
	}
	out := make([]*grid, len(grids))
	for i, g := range grids {
		if g.step == target {
			out[i] = g
			continue
		}
		if target%g.step != 0 {
			return nil, evalErrorf(CodeAlignment, "resolutions %s and %s cannot be aligned",
				resolutionToken(g.step), resolutionToken(target))
		}
		out[i] = downsample(g, target)
	}
	length := len(out[0].values)
	for _, g := range out[1:] {
		if len(g.values) != length {
			return nil, evalErrorf(CodeAlignment, "series lengths differ after alignment: %d vs %d", length, len(g.values))
		}
	}
	return out, nil
}

// downsample sums ratio consecutive values into each coarser slot.
func downsample(g *grid, target time.Duration) *grid {
	ratio := int(target / g.step)
	slots := len(g.values) / ratio
	values := make([]decimal.Decimal, slots)
	for i := 0; i < slots; i++ {
		sum := decimal.Zero
		for j := 0; j < ratio; j++ {
			sum = sum.Add(g.values[i*ratio+j])
		}
		values[i] = sum
	}
	return &grid{step: target, start: g.start, values: values}
}
