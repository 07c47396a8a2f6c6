package evaluation

import (
	"context"

	"github.com/shopspring/decimal"

	formula "mabis-registry/internal/formula/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

// maxRoundDigits bounds Round's decimal places, matching the limit the
// validator enforces at registration.
const maxRoundDigits = 12

// Evaluator computes formula expressions over bound time-series data.
// Evaluation is pure and deterministic: the same expression against the
// same bindings always yields the same output.
type Evaluator struct {
	tables TableProvider
}

// EvaluatorOption configures the evaluator.
type EvaluatorOption func(*Evaluator)

// WithTables installs the default conversion-table provider for Conv_RKMG.
func WithTables(provider TableProvider) EvaluatorOption {
	return func(e *Evaluator) {
		if provider != nil {
			e.tables = provider
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reduces expr bottom-up against bindings over period. The error
// is always a tagged EvalError; no other failure escapes this boundary.
// Cancellation is cooperative via ctx.
func (e *Evaluator) Evaluate(ctx context.Context, expr *formula.FormulaExpression, bindings Bindings, period timeseries.Period) (Value, *EvalError) {
	if expr == nil {
		return Value{}, evalErrorf(CodeTypeMismatch, "nil expression")
	}
	if period.IsZero() {
		return Value{}, evalErrorf(CodeAlignment, "empty evaluation period")
	}
	tables := bindings.Tables
	if tables == nil {
		tables = e.tables
	}
	r := &run{ctx: ctx, bindings: bindings, period: period, tables: tables}
	return r.eval(expr)
}

type run struct {
	ctx      context.Context
	bindings Bindings
	period   timeseries.Period
	tables   TableProvider
}

func (r *run) eval(expr *formula.FormulaExpression) (Value, *EvalError) {
	if r.ctx != nil && r.ctx.Err() != nil {
		return Value{}, evalErrorf(CodeCancelled, "evaluation cancelled")
	}
	if !formula.KnownFunction(expr.Function) {
		return Value{}, evalErrorf(CodeUnknownFunction, "unknown function %q", expr.Function)
	}
	if !formula.ArityValid(expr.Function, len(expr.Parameters)) {
		return Value{}, evalErrorf(CodeArityMismatch, "%s does not accept %d parameters", expr.Function, len(expr.Parameters))
	}

	switch expr.Function {
	case formula.FuncGrpSum:
		return r.evalGrpSum(expr)
	case formula.FuncWennDann:
		return r.evalWennDann(expr)
	case formula.FuncAnteilGroesserAls:
		return r.evalThresholdMask(expr, func(v, threshold decimal.Decimal) bool { return v.GreaterThan(threshold) })
	case formula.FuncAnteilKleinerAls:
		return r.evalThresholdMask(expr, func(v, threshold decimal.Decimal) bool { return v.LessThan(threshold) })
	case formula.FuncGroesserAls:
		return r.evalGroesserAls(expr)
	case formula.FuncQuerMax:
		return r.evalCross(expr, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	case formula.FuncQuerMin:
		return r.evalCross(expr, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	case formula.FuncRound:
		return r.evalRound(expr)
	case formula.FuncConvRKMG:
		return r.evalConvRKMG(expr)
	case formula.FuncIMax:
		return r.evalIntraReduce(expr, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	case formula.FuncIMin:
		return r.evalIntraReduce(expr, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	default:
		return Value{}, evalErrorf(CodeUnknownFunction, "unknown function %q", expr.Function)
	}
}

// numericOperand resolves a constant, reference or nested expression to a
// value, applying the parameter's scaling factor.
func (r *run) numericOperand(p formula.FormulaParameter) (Value, *EvalError) {
	switch p.Type {
	case formula.ParameterConstant:
		return scalarValue(p.Constant.Mul(p.Scale())), nil
	case formula.ParameterTimeSeriesRef:
		return r.resolveReference(p)
	case formula.ParameterExpression:
		value, err := r.eval(p.Expression)
		if err != nil {
			return Value{}, err
		}
		return scaleValue(value, p), nil
	default:
		return Value{}, evalErrorf(CodeTypeMismatch, "string parameter where numeric operand expected")
	}
}

// seriesOperand resolves a reference or expression that must yield a series.
func (r *run) seriesOperand(p formula.FormulaParameter) (*grid, *EvalError) {
	value, err := r.numericOperand(p)
	if err != nil {
		return nil, err
	}
	if value.IsScalar() {
		return nil, evalErrorf(CodeTypeMismatch, "scalar operand where series expected")
	}
	return value.g, nil
}

func (r *run) resolveReference(p formula.FormulaParameter) (Value, *EvalError) {
	name := p.Reference
	if r.bindings.Scalars != nil {
		if scalar, ok := r.bindings.Scalars[name]; ok {
			return scalarValue(scalar.Mul(p.Scale())), nil
		}
	}
	series := r.bindings.Series[name]
	if series == nil {
		return Value{}, evalErrorf(CodeUnboundReference, "no binding for %q", name)
	}
	g, err := gridFromSeries(series, r.period)
	if err != nil {
		return Value{}, err
	}
	return scaleValue(seriesValue(g), p), nil
}

func scaleValue(v Value, p formula.FormulaParameter) Value {
	if p.ScalingFactor == nil {
		return v
	}
	factor := p.Scale()
	if v.IsScalar() {
		return scalarValue(v.scalar.Mul(factor))
	}
	scaled := v.g.clone()
	for i := range scaled.values {
		scaled.values[i] = scaled.values[i].Mul(factor)
	}
	return seriesValue(scaled)
}

func (r *run) evalGrpSum(expr *formula.FormulaExpression) (Value, *EvalError) {
	scalarSum := decimal.Zero
	var grids []*grid
	for _, p := range expr.Parameters {
		value, err := r.numericOperand(p)
		if err != nil {
			return Value{}, err
		}
		if value.IsScalar() {
			scalarSum = scalarSum.Add(value.scalar)
			continue
		}
		grids = append(grids, value.g)
	}
	if len(grids) == 0 {
		return scalarValue(scalarSum), nil
	}
	aligned, err := alignGrids(grids)
	if err != nil {
		return Value{}, err
	}
	out := aligned[0].clone()
	for i := range out.values {
		sum := scalarSum
		for _, g := range aligned {
			sum = sum.Add(g.values[i])
		}
		out.values[i] = sum
	}
	return seriesValue(out), nil
}

func (r *run) evalWennDann(expr *formula.FormulaExpression) (Value, *EvalError) {
	params := expr.Parameters

	condition, err := r.numericOperand(params[0])
	if err != nil {
		return Value{}, err
	}
	if params[1].Type != formula.ParameterString {
		return Value{}, evalErrorf(CodeTypeMismatch, "Wenn_Dann comparator must be a string parameter")
	}
	comparator := params[1].Literal
	if !formula.ValidComparator(comparator) {
		return Value{}, evalErrorf(CodeTypeMismatch, "unknown comparator %q", comparator)
	}
	if params[2].Type != formula.ParameterConstant {
		return Value{}, evalErrorf(CodeTypeMismatch, "Wenn_Dann threshold must be a constant")
	}
	threshold := params[2].Constant.Mul(params[2].Scale())
	then, err := r.numericOperand(params[3])
	if err != nil {
		return Value{}, err
	}
	// The else branch is restricted to a bare constant.
	if params[4].Type != formula.ParameterConstant {
		return Value{}, evalErrorf(CodeTypeMismatch, "Wenn_Dann else branch must be a constant")
	}
	elseValue := params[4].Constant.Mul(params[4].Scale())

	if condition.IsScalar() && then.IsScalar() {
		if compare(comparator, condition.scalar, threshold) {
			return scalarValue(then.scalar), nil
		}
		return scalarValue(elseValue), nil
	}

	var grids []*grid
	if !condition.IsScalar() {
		grids = append(grids, condition.g)
	}
	if !then.IsScalar() {
		grids = append(grids, then.g)
	}
	aligned, alignErr := alignGrids(grids)
	if alignErr != nil {
		return Value{}, alignErr
	}
	next := 0
	condGrid, thenGrid := (*grid)(nil), (*grid)(nil)
	if !condition.IsScalar() {
		condGrid = aligned[next]
		next++
	}
	if !then.IsScalar() {
		thenGrid = aligned[next]
	}

	template := condGrid
	if template == nil {
		template = thenGrid
	}
	out := template.clone()
	for i := range out.values {
		conditionAt := condition.scalar
		if condGrid != nil {
			conditionAt = condGrid.values[i]
		}
		if compare(comparator, conditionAt, threshold) {
			if thenGrid != nil {
				out.values[i] = thenGrid.values[i]
			} else {
				out.values[i] = then.scalar
			}
		} else {
			out.values[i] = elseValue
		}
	}
	return seriesValue(out), nil
}

func (r *run) evalThresholdMask(expr *formula.FormulaExpression, keep func(v, threshold decimal.Decimal) bool) (Value, *EvalError) {
	g, err := r.seriesOperand(expr.Parameters[0])
	if err != nil {
		return Value{}, err
	}
	if expr.Parameters[1].Type != formula.ParameterConstant {
		return Value{}, evalErrorf(CodeTypeMismatch, "%s threshold must be a constant", expr.Function)
	}
	threshold := expr.Parameters[1].Constant
	out := g.clone()
	for i, v := range out.values {
		if !keep(v, threshold) {
			out.values[i] = decimal.Zero
		}
	}
	return seriesValue(out), nil
}

func (r *run) evalGroesserAls(expr *formula.FormulaExpression) (Value, *EvalError) {
	g, err := r.seriesOperand(expr.Parameters[0])
	if err != nil {
		return Value{}, err
	}
	if expr.Parameters[1].Type != formula.ParameterConstant {
		return Value{}, evalErrorf(CodeTypeMismatch, "Groesser_Als threshold must be a constant")
	}
	threshold := expr.Parameters[1].Constant
	one := decimal.NewFromInt(1)
	out := g.clone()
	for i, v := range out.values {
		if v.GreaterThan(threshold) {
			out.values[i] = one
		} else {
			out.values[i] = decimal.Zero
		}
	}
	return seriesValue(out), nil
}

func (r *run) evalCross(expr *formula.FormulaExpression, better func(a, b decimal.Decimal) bool) (Value, *EvalError) {
	grids := make([]*grid, 0, len(expr.Parameters))
	for _, p := range expr.Parameters {
		g, err := r.seriesOperand(p)
		if err != nil {
			return Value{}, err
		}
		grids = append(grids, g)
	}
	aligned, err := alignGrids(grids)
	if err != nil {
		return Value{}, err
	}
	out := aligned[0].clone()
	for i := range out.values {
		pick := aligned[0].values[i]
		for _, g := range aligned[1:] {
			if better(g.values[i], pick) {
				pick = g.values[i]
			}
		}
		out.values[i] = pick
	}
	return seriesValue(out), nil
}

func (r *run) evalRound(expr *formula.FormulaExpression) (Value, *EvalError) {
	value, err := r.numericOperand(expr.Parameters[0])
	if err != nil {
		return Value{}, err
	}
	if expr.Parameters[1].Type != formula.ParameterConstant {
		return Value{}, evalErrorf(CodeTypeMismatch, "Round decimal places must be a constant")
	}
	digitsConstant := expr.Parameters[1].Constant
	if !digitsConstant.IsInteger() || digitsConstant.IsNegative() || digitsConstant.IntPart() > maxRoundDigits {
		return Value{}, evalErrorf(CodeTypeMismatch, "Round decimal places must be an integer between 0 and %d", maxRoundDigits)
	}
	digits := int32(digitsConstant.IntPart())
	// decimal.Round is half away from zero, matching regulatory rounding.
	if value.IsScalar() {
		return scalarValue(value.scalar.Round(digits)), nil
	}
	out := value.g.clone()
	for i := range out.values {
		out.values[i] = out.values[i].Round(digits)
	}
	return seriesValue(out), nil
}

func (r *run) evalConvRKMG(expr *formula.FormulaExpression) (Value, *EvalError) {
	g, err := r.seriesOperand(expr.Parameters[0])
	if err != nil {
		return Value{}, err
	}
	if expr.Parameters[1].Type != formula.ParameterString {
		return Value{}, evalErrorf(CodeTypeMismatch, "Conv_RKMG table must be a string parameter")
	}
	tableName := expr.Parameters[1].Literal
	if r.tables == nil {
		return Value{}, evalErrorf(CodeUnboundReference, "no conversion tables bound")
	}
	table, ok := r.tables.Table(tableName)
	if !ok {
		return Value{}, evalErrorf(CodeUnboundReference, "unknown conversion table %q", tableName)
	}
	out := g.clone()
	cursor := out.start
	for i := range out.values {
		factor, ok := table.Factor(cursor)
		if !ok {
			return Value{}, evalErrorf(CodeUnboundReference, "conversion table %q has no factor for %s", tableName, cursor.Format("2006-01"))
		}
		out.values[i] = out.values[i].Mul(factor)
		cursor = cursor.Add(out.step)
	}
	return seriesValue(out), nil
}

func (r *run) evalIntraReduce(expr *formula.FormulaExpression, better func(a, b decimal.Decimal) bool) (Value, *EvalError) {
	g, err := r.seriesOperand(expr.Parameters[0])
	if err != nil {
		return Value{}, err
	}
	if len(g.values) == 0 {
		return Value{}, evalErrorf(CodeAlignment, "%s over an empty period", expr.Function)
	}
	pick := g.values[0]
	for _, v := range g.values[1:] {
		if better(v, pick) {
			pick = v
		}
	}
	return scalarValue(pick), nil
}

func compare(comparator string, left, right decimal.Decimal) bool {
	switch comparator {
	case ">":
		return left.GreaterThan(right)
	case "<":
		return left.LessThan(right)
	case ">=":
		return left.GreaterThanOrEqual(right)
	case "<=":
		return left.LessThanOrEqual(right)
	case "==":
		return left.Equal(right)
	default:
		return false
	}
}
