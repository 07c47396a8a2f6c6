package formula

import (
	"fmt"
)

const defaultMaxNodes = 256

// Validator runs the structural and business checks a submitted formula
// must pass before registration. All failures accumulate so a sender can
// fix a submission in one round trip.
type Validator struct {
	maxNodes int
}

// ValidatorOption configures the validator.
type ValidatorOption func(*Validator)

// WithMaxNodes bounds the accepted expression tree size.
func WithMaxNodes(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.maxNodes = n
		}
	}
}

// NewValidator constructs a validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{maxNodes: defaultMaxNodes}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks f and returns nil when it is acceptable. Only failures
// that make later checks meaningless (no expression, cyclic tree) stop the
// run early; everything else accumulates.
func (v *Validator) Validate(f *Formula) []ValidationError {
	if f == nil {
		return []ValidationError{{Code: CodeMissingExpression, Field: "", Message: "formula is missing"}}
	}

	var errs []ValidationError
	if f.FormulaID == "" {
		errs = append(errs, ValidationError{Code: CodeEmptyFormulaID, Field: "formulaId", Message: "formulaId must not be empty"})
	}
	if f.Expression == nil {
		errs = append(errs, ValidationError{Code: CodeMissingExpression, Field: "expression", Message: "expression must not be empty"})
		return append(errs, v.validateEnvelope(f)...)
	}
	if !f.Expression.CheckAcyclic() {
		errs = append(errs, ValidationError{Code: CodeCyclicExpression, Field: "expression", Message: "expression tree references itself"})
		return append(errs, v.validateEnvelope(f)...)
	}
	if count := f.Expression.NodeCount(); count > v.maxNodes {
		errs = append(errs, ValidationError{
			Code:    CodeExpressionTooLarge,
			Field:   "expression",
			Message: fmt.Sprintf("expression has %d nodes, limit is %d", count, v.maxNodes),
		})
	}

	errs = append(errs, validateExpression(f.Expression, "expression")...)
	errs = append(errs, validateClosure(f)...)
	errs = append(errs, v.validateEnvelope(f)...)
	errs = append(errs, validateBusinessRules(f)...)
	errs = append(errs, validateOBISCodes(f)...)
	return errs
}

// validateEnvelope covers unit, resolution and category sanity.
func (v *Validator) validateEnvelope(f *Formula) []ValidationError {
	var errs []ValidationError
	if f.OutputUnit == "" {
		errs = append(errs, ValidationError{Code: CodeEmptyOutputUnit, Field: "outputUnit", Message: "outputUnit must not be empty"})
	}
	if _, ok := ParseResolution(f.OutputResolution); !ok {
		errs = append(errs, ValidationError{
			Code:    CodeInvalidResolution,
			Field:   "outputResolution",
			Message: fmt.Sprintf("%q is not a recognized ISO-8601 resolution", f.OutputResolution),
		})
	}
	if f.Category != "" && !KnownCategory(f.Category) {
		errs = append(errs, ValidationError{
			Code:    CodeUnknownCategory,
			Field:   "category",
			Message: fmt.Sprintf("unknown category %q", f.Category),
		})
	}
	return errs
}

// validateExpression checks function names, arity and parameter shapes for
// every node, pre-order.
func validateExpression(expr *FormulaExpression, path string) []ValidationError {
	var errs []ValidationError
	if !KnownFunction(expr.Function) {
		errs = append(errs, ValidationError{
			Code:    CodeUnknownFunction,
			Field:   path + ".function",
			Message: fmt.Sprintf("unknown function %q", expr.Function),
		})
		return errs
	}
	if !ArityValid(expr.Function, len(expr.Parameters)) {
		errs = append(errs, ValidationError{
			Code:    CodeArityMismatch,
			Field:   path + ".parameters",
			Message: fmt.Sprintf("%s does not accept %d parameters", expr.Function, len(expr.Parameters)),
		})
	} else {
		errs = append(errs, validateParameterShapes(expr, path)...)
	}
	for i := range expr.Parameters {
		if expr.Parameters[i].Type != ParameterExpression || expr.Parameters[i].Expression == nil {
			continue
		}
		childPath := fmt.Sprintf("%s.parameters[%d].value", path, i)
		errs = append(errs, validateExpression(expr.Parameters[i].Expression, childPath)...)
	}
	return errs
}

// validateParameterShapes enforces the per-function parameter type layout.
func validateParameterShapes(expr *FormulaExpression, path string) []ValidationError {
	var errs []ValidationError
	fail := func(index int, code, message string) {
		errs = append(errs, ValidationError{
			Code:    code,
			Field:   fmt.Sprintf("%s.parameters[%d]", path, index),
			Message: message,
		})
	}
	numeric := func(p FormulaParameter) bool {
		return p.Type == ParameterConstant || p.Type == ParameterTimeSeriesRef || p.Type == ParameterExpression
	}
	seriesLike := func(p FormulaParameter) bool {
		return p.Type == ParameterTimeSeriesRef || p.Type == ParameterExpression
	}
	params := expr.Parameters

	switch expr.Function {
	case FuncWennDann:
		if !numeric(params[0]) {
			fail(0, CodeParameterType, "condition must be a constant, reference or expression")
		}
		if params[1].Type != ParameterString {
			fail(1, CodeParameterType, "comparator must be a string parameter")
		} else if !ValidComparator(params[1].Literal) {
			fail(1, CodeInvalidComparator, fmt.Sprintf("unknown comparator %q", params[1].Literal))
		}
		if params[2].Type != ParameterConstant {
			fail(2, CodeParameterType, "comparison threshold must be a constant")
		}
		if !numeric(params[3]) {
			fail(3, CodeParameterType, "then branch must be a constant, reference or expression")
		}
		// The else branch is deliberately restricted to a bare constant.
		if params[4].Type != ParameterConstant {
			fail(4, CodeElseBranchNotConstant, "else branch must be a constant")
		}
	case FuncGrpSum:
		for i, p := range params {
			if !numeric(p) {
				fail(i, CodeParameterType, "summand must be a constant, reference or expression")
			}
		}
	case FuncAnteilGroesserAls, FuncAnteilKleinerAls, FuncGroesserAls:
		if !seriesLike(params[0]) {
			fail(0, CodeParameterType, "input must be a time-series reference or expression")
		}
		if params[1].Type != ParameterConstant {
			fail(1, CodeParameterType, "threshold must be a numeric constant")
		}
	case FuncQuerMax, FuncQuerMin:
		for i, p := range params {
			if !seriesLike(p) {
				fail(i, CodeParameterType, "operand must be a time-series reference or expression")
			}
		}
	case FuncRound:
		if !numeric(params[0]) {
			fail(0, CodeParameterType, "input must be a constant, reference or expression")
		}
		if params[1].Type != ParameterConstant {
			fail(1, CodeParameterType, "decimal places must be a constant")
		} else {
			digits := params[1].Constant
			if !digits.IsInteger() || digits.IsNegative() || digits.IntPart() > 12 {
				fail(1, CodeInvalidRoundDigits, "decimal places must be an integer between 0 and 12")
			}
		}
	case FuncConvRKMG:
		if !seriesLike(params[0]) {
			fail(0, CodeParameterType, "input must be a time-series reference or expression")
		}
		if params[1].Type != ParameterString {
			fail(1, CodeParameterType, "conversion table must be a string parameter")
		} else if params[1].Literal == "" {
			fail(1, CodeEmptyConversionTable, "conversion table name must not be empty")
		}
	case FuncIMax, FuncIMin:
		if !seriesLike(params[0]) {
			fail(0, CodeParameterType, "input must be a time-series reference or expression")
		}
	}
	return errs
}

// validateClosure enforces the bijection between inputTimeSeries and the
// references the expression actually uses.
func validateClosure(f *Formula) []ValidationError {
	var errs []ValidationError
	declared := make(map[string]struct{}, len(f.InputTimeSeries))
	for _, name := range f.InputTimeSeries {
		declared[name] = struct{}{}
	}
	referenced := make(map[string]struct{})
	for _, name := range f.Expression.References() {
		referenced[name] = struct{}{}
		if _, ok := declared[name]; !ok {
			errs = append(errs, ValidationError{
				Code:    CodeReferenceNotDeclared,
				Field:   "inputTimeSeries",
				Message: fmt.Sprintf("expression references %q which is not declared", name),
			})
		}
	}
	for _, name := range f.InputTimeSeries {
		if _, ok := referenced[name]; !ok {
			errs = append(errs, ValidationError{
				Code:    CodeInputNotReferenced,
				Field:   "inputTimeSeries",
				Message: fmt.Sprintf("declared input %q is never referenced", name),
			})
		}
	}
	return errs
}

// validateBusinessRules applies category-specific constraints.
func validateBusinessRules(f *Formula) []ValidationError {
	var errs []ValidationError
	if f.Category == CategoryVerluste {
		_ = f.Expression.Walk(func(node *FormulaExpression) error {
			for i, p := range node.Parameters {
				if p.ScalingFactor != nil && (*p.ScalingFactor < 0 || *p.ScalingFactor > 1) {
					errs = append(errs, ValidationError{
						Code:    CodeScalingOutOfRange,
						Field:   fmt.Sprintf("expression.parameters[%d]", i),
						Message: fmt.Sprintf("loss formula scaling factor %v must lie in [0,1]", *p.ScalingFactor),
					})
				}
			}
			return nil
		})
	}
	if f.LossFactor != nil && (*f.LossFactor < 0 || *f.LossFactor > 1) {
		errs = append(errs, ValidationError{
			Code:    CodeScalingOutOfRange,
			Field:   "lossFactor",
			Message: fmt.Sprintf("loss factor %v must lie in [0,1]", *f.LossFactor),
		})
	}
	return errs
}

// validateOBISCodes checks well-formedness of every OBIS code present.
func validateOBISCodes(f *Formula) []ValidationError {
	var errs []ValidationError
	if f.OutputOBISCode != "" && !ValidOBISCode(f.OutputOBISCode) {
		errs = append(errs, ValidationError{
			Code:    CodeInvalidOBISCode,
			Field:   "outputObisCode",
			Message: fmt.Sprintf("malformed OBIS code %q", f.OutputOBISCode),
		})
	}
	_ = f.Expression.Walk(func(node *FormulaExpression) error {
		for i, p := range node.Parameters {
			if p.OBISCode != "" && !ValidOBISCode(p.OBISCode) {
				errs = append(errs, ValidationError{
					Code:    CodeInvalidOBISCode,
					Field:   fmt.Sprintf("expression.parameters[%d].obisCode", i),
					Message: fmt.Sprintf("malformed OBIS code %q", p.OBISCode),
				})
			}
		}
		return nil
	})
	return errs
}
