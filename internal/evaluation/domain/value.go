package evaluation

import (
	"time"

	"github.com/shopspring/decimal"

	timeseries "mabis-registry/internal/timeseries/domain"
)

// grid is a series operand aligned to the requested period: a fixed step
// and one value per slot, starting at start.
type grid struct {
	step   time.Duration
	start  time.Time
	values []decimal.Decimal
}

func (g *grid) clone() *grid {
	return &grid{step: g.step, start: g.start, values: append([]decimal.Decimal(nil), g.values...)}
}

// Value is the outcome of an evaluation: either a scalar or a series.
type Value struct {
	g      *grid
	scalar decimal.Decimal
}

func scalarValue(d decimal.Decimal) Value { return Value{scalar: d} }

func seriesValue(g *grid) Value { return Value{g: g} }

// IsScalar reports whether the value is a scalar reduction.
func (v Value) IsScalar() bool { return v.g == nil }

// Scalar returns the scalar value; only meaningful when IsScalar.
func (v Value) Scalar() decimal.Decimal { return v.scalar }

// Resolution returns the ISO-8601 token of the series value, or "" for
// scalars.
func (v Value) Resolution() string {
	if v.g == nil {
		return ""
	}
	return resolutionToken(v.g.step)
}

// Intervals materializes the series value as validated intervals.
func (v Value) Intervals() []timeseries.Interval {
	if v.g == nil {
		return nil
	}
	out := make([]timeseries.Interval, len(v.g.values))
	cursor := v.g.start
	for i, quantity := range v.g.values {
		next := cursor.Add(v.g.step)
		out[i] = timeseries.Interval{
			Position: i,
			Start:    cursor,
			End:      next,
			Quantity: quantity,
			Quality:  timeseries.QualityCalculated,
		}
		cursor = next
	}
	return out
}

// Period returns the series value's period, or a zero period for scalars.
func (v Value) Period() timeseries.Period {
	if v.g == nil || len(v.g.values) == 0 {
		return timeseries.Period{}
	}
	return timeseries.Period{
		Start: v.g.start,
		End:   v.g.start.Add(time.Duration(len(v.g.values)) * v.g.step),
	}
}

var tokenBySteps = map[time.Duration]string{
	15 * time.Minute: "PT15M",
	30 * time.Minute: "PT30M",
	time.Hour:        "PT1H",
	24 * time.Hour:   "P1D",
}

func resolutionToken(step time.Duration) string {
	return tokenBySteps[step]
}

// Bindings resolve a formula's symbolic input names to concrete data for
// one evaluation. Tables supplies Conv_RKMG conversion tables.
type Bindings struct {
	Series  map[string]*timeseries.TimeSeries
	Scalars map[string]decimal.Decimal
	Tables  TableProvider
}

// ConversionTable yields the per-interval factor of a load-profile
// conversion.
type ConversionTable interface {
	Factor(at time.Time) (decimal.Decimal, bool)
}

// TableProvider resolves conversion tables by name.
type TableProvider interface {
	Table(name string) (ConversionTable, bool)
}

// StaticTable is a month-keyed conversion table with a default factor.
type StaticTable struct {
	Default decimal.Decimal
	Months  map[string]decimal.Decimal
}

// Factor returns the factor for the month containing at.
func (t StaticTable) Factor(at time.Time) (decimal.Decimal, bool) {
	if t.Months != nil {
		if factor, ok := t.Months[at.UTC().Format("2006-01")]; ok {
			return factor, true
		}
	}
	if t.Default.IsZero() {
		return decimal.Decimal{}, false
	}
	return t.Default, true
}

// StaticTables is an in-memory TableProvider.
type StaticTables map[string]StaticTable

// Table implements TableProvider.
func (p StaticTables) Table(name string) (ConversionTable, bool) {
	table, ok := p[name]
	return table, ok
}
