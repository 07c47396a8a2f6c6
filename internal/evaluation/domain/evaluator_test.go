package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	formula "mabis-registry/internal/formula/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

var gridStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func boundSeries(id, resolution string, values ...string) *timeseries.TimeSeries {
	step, _ := formula.ParseResolution(resolution)
	intervals := make([]timeseries.Interval, len(values))
	for i, v := range values {
		intervals[i] = timeseries.Interval{
			Position: i,
			Start:    gridStart.Add(time.Duration(i) * step),
			End:      gridStart.Add(time.Duration(i+1) * step),
			Quantity: decimal.RequireFromString(v),
			Quality:  timeseries.QualityValidated,
		}
	}
	return &timeseries.TimeSeries{
		TimeSeriesID: id,
		Unit:         "kWh",
		Resolution:   resolution,
		Period: timeseries.Period{
			Start: gridStart,
			End:   gridStart.Add(time.Duration(len(values)) * step),
		},
		Intervals: intervals,
	}
}

func periodOf(resolution string, slots int) timeseries.Period {
	step, _ := formula.ParseResolution(resolution)
	return timeseries.Period{Start: gridStart, End: gridStart.Add(time.Duration(slots) * step)}
}

func evalExpr(t *testing.T, expr *formula.FormulaExpression, bindings Bindings, period timeseries.Period) Value {
	t.Helper()
	value, err := NewEvaluator().Evaluate(context.Background(), expr, bindings, period)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return value
}

func wantSeries(t *testing.T, value Value, want ...string) {
	t.Helper()
	if value.IsScalar() {
		t.Fatalf("got scalar %s, want series", value.Scalar())
	}
	intervals := value.Intervals()
	if len(intervals) != len(want) {
		t.Fatalf("got %d intervals, want %d", len(intervals), len(want))
	}
	for i, interval := range intervals {
		if !interval.Quantity.Equal(decimal.RequireFromString(want[i])) {
			t.Fatalf("interval %d = %s, want %s", i, interval.Quantity, want[i])
		}
	}
}

func TestGrpSumAddsSeriesAndConstants(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewSeriesRef("B"),
			formula.NewConstant(decimal.NewFromInt(5)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20", "30"),
		"B": boundSeries("B", "PT15M", "1", "2", "3"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "16", "27", "38")
}

func TestGrpSumAppliesScalingFactor(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewScaledSeriesRef("A", 0.5),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 2))
	wantSeries(t, value, "5", "10")
}

func TestGrpSumOfConstantsIsScalar(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewConstant(decimal.NewFromInt(2)),
			formula.NewConstant(decimal.NewFromInt(3)),
		},
	}
	value := evalExpr(t, expr, Bindings{}, periodOf("PT15M", 1))
	if !value.IsScalar() || !value.Scalar().Equal(decimal.NewFromInt(5)) {
		t.Fatalf("value = %+v, want scalar 5", value)
	}
}

func TestWennDannSelectsBranchPerInterval(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncWennDann,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewString(">"),
			formula.NewConstant(decimal.NewFromInt(15)),
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.Zero),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20", "30"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "0", "20", "30")
}

func TestAnteilGroesserAlsMasksBelowThreshold(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncAnteilGroesserAls,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.NewFromInt(15)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20", "15"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "0", "20", "0")
}

func TestAnteilKleinerAlsMasksAboveThreshold(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncAnteilKleinerAls,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.NewFromInt(15)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20", "15"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "10", "0", "0")
}

func TestGroesserAlsYieldsIndicator(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGroesserAls,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.NewFromInt(15)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "20", "15"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "0", "1", "0")
}

func TestQuerMaxAndQuerMin(t *testing.T) {
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "2"),
		"B": boundSeries("B", "PT15M", "3", "20"),
	}}
	period := periodOf("PT15M", 2)

	max := evalExpr(t, &formula.FormulaExpression{
		Function:   formula.FuncQuerMax,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A"), formula.NewSeriesRef("B")},
	}, bindings, period)
	wantSeries(t, max, "10", "20")

	min := evalExpr(t, &formula.FormulaExpression{
		Function:   formula.FuncQuerMin,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A"), formula.NewSeriesRef("B")},
	}, bindings, period)
	wantSeries(t, min, "3", "2")
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncRound,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.NewFromInt(1)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "1.25", "-1.25", "2.04"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 3))
	wantSeries(t, value, "1.3", "-1.3", "2")
}

func TestRoundRejectsOversizedDigits(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncRound,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewConstant(decimal.NewFromInt(1 << 33)),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "1.25"),
	}}
	_, err := NewEvaluator().Evaluate(context.Background(), expr, bindings, periodOf("PT15M", 1))
	if err == nil || err.Code != CodeTypeMismatch {
		t.Fatalf("err = %v, want TYPE_MISMATCH", err)
	}
}

func TestConvRKMGAppliesMonthlyFactor(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncConvRKMG,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewString("rkm-standard"),
		},
	}
	bindings := Bindings{
		Series: map[string]*timeseries.TimeSeries{
			"A": boundSeries("A", "PT15M", "10", "20"),
		},
		Tables: StaticTables{
			"rkm-standard": {Months: map[string]decimal.Decimal{"2024-03": decimal.RequireFromString("1.1")}},
		},
	}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 2))
	wantSeries(t, value, "11", "22")
}

func TestConvRKMGUnknownTableFails(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncConvRKMG,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewString("missing"),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10"),
	}}
	_, err := NewEvaluator().Evaluate(context.Background(), expr, bindings, periodOf("PT15M", 1))
	if err == nil || err.Code != CodeUnboundReference {
		t.Fatalf("err = %v, want UNBOUND_REFERENCE", err)
	}
}

func TestIMaxIMinReduceToScalar(t *testing.T) {
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "10", "30", "20"),
	}}
	period := periodOf("PT15M", 3)

	max := evalExpr(t, &formula.FormulaExpression{
		Function:   formula.FuncIMax,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A")},
	}, bindings, period)
	if !max.IsScalar() || !max.Scalar().Equal(decimal.NewFromInt(30)) {
		t.Fatalf("IMax = %+v, want scalar 30", max)
	}

	min := evalExpr(t, &formula.FormulaExpression{
		Function:   formula.FuncIMin,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A")},
	}, bindings, period)
	if !min.IsScalar() || !min.Scalar().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("IMin = %+v, want scalar 10", min)
	}
}

func TestNestedExpressionsCompose(t *testing.T) {
	inner := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewSeriesRef("B"),
		},
	}
	expr := &formula.FormulaExpression{
		Function: formula.FuncRound,
		Parameters: []formula.FormulaParameter{
			formula.NewNested(inner),
			formula.NewConstant(decimal.Zero),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "1.2", "2.6"),
		"B": boundSeries("B", "PT15M", "0.2", "0.2"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 2))
	wantSeries(t, value, "1", "3")
}

func TestMixedResolutionsDownsampleBySum(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("fine"),
			formula.NewSeriesRef("coarse"),
		},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"fine":   boundSeries("fine", "PT15M", "1", "2", "3", "4"),
		"coarse": boundSeries("coarse", "PT1H", "100"),
	}}
	value := evalExpr(t, expr, bindings, periodOf("PT1H", 1))
	wantSeries(t, value, "110")
	if value.Resolution() != "PT1H" {
		t.Fatalf("resolution = %s, want PT1H", value.Resolution())
	}
}

func TestSeriesNotCoveringPeriodFails(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function:   formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A")},
	}
	bindings := Bindings{Series: map[string]*timeseries.TimeSeries{
		"A": boundSeries("A", "PT15M", "1", "2"),
	}}
	_, err := NewEvaluator().Evaluate(context.Background(), expr, bindings, periodOf("PT15M", 4))
	if err == nil || err.Code != CodeAlignment {
		t.Fatalf("err = %v, want ALIGNMENT_ERROR", err)
	}
}

func TestUnboundReferenceFails(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function:   formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{formula.NewSeriesRef("missing")},
	}
	_, err := NewEvaluator().Evaluate(context.Background(), expr, Bindings{}, periodOf("PT15M", 1))
	if err == nil || err.Code != CodeUnboundReference {
		t.Fatalf("err = %v, want UNBOUND_REFERENCE", err)
	}
}

func TestScalarBindingResolvesReference(t *testing.T) {
	expr := &formula.FormulaExpression{
		Function: formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{
			formula.NewSeriesRef("A"),
			formula.NewSeriesRef("offset"),
		},
	}
	bindings := Bindings{
		Series:  map[string]*timeseries.TimeSeries{"A": boundSeries("A", "PT15M", "10", "20")},
		Scalars: map[string]decimal.Decimal{"offset": decimal.NewFromInt(1)},
	}
	value := evalExpr(t, expr, bindings, periodOf("PT15M", 2))
	wantSeries(t, value, "11", "21")
}

func TestCancelledContextStopsEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	expr := &formula.FormulaExpression{
		Function:   formula.FuncGrpSum,
		Parameters: []formula.FormulaParameter{formula.NewConstant(decimal.NewFromInt(1))},
	}
	_, err := NewEvaluator().Evaluate(ctx, expr, Bindings{}, periodOf("PT15M", 1))
	if err == nil || err.Code != CodeCancelled {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
}
