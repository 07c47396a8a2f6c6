package formula

// FormulaFunction names one of the built-in computation functions.
type FormulaFunction string

const (
	// FuncWennDann is if-then-else over a comparison, interval-wise.
	FuncWennDann FormulaFunction = "Wenn_Dann"
	// FuncGrpSum sums scaled parameters, interval-wise.
	FuncGrpSum FormulaFunction = "Grp_Sum"
	// FuncAnteilGroesserAls keeps values above a threshold, else 0.
	FuncAnteilGroesserAls FormulaFunction = "Anteil_Groesser_Als"
	// FuncAnteilKleinerAls keeps values below a threshold, else 0.
	FuncAnteilKleinerAls FormulaFunction = "Anteil_Kleiner_Als"
	// FuncQuerMax takes the per-interval maximum across series.
	FuncQuerMax FormulaFunction = "Quer_Max"
	// FuncQuerMin takes the per-interval minimum across series.
	FuncQuerMin FormulaFunction = "Quer_Min"
	// FuncGroesserAls compares a series against a constant, yielding 1/0.
	FuncGroesserAls FormulaFunction = "Groesser_Als"
	// FuncRound rounds each value to n decimal places, half away from zero.
	FuncRound FormulaFunction = "Round"
	// FuncConvRKMG converts between registered and synthetic load profiles.
	FuncConvRKMG FormulaFunction = "Conv_RKMG"
	// FuncIMax reduces a single series to its maximum value.
	FuncIMax FormulaFunction = "IMax"
	// FuncIMin reduces a single series to its minimum value.
	FuncIMin FormulaFunction = "IMin"
)

// arity bounds per function; max -1 means unbounded.
type functionArity struct {
	min int
	max int
}

var functionArities = map[FormulaFunction]functionArity{
	FuncWennDann:          {min: 5, max: 5},
	FuncGrpSum:            {min: 1, max: -1},
	FuncAnteilGroesserAls: {min: 2, max: 2},
	FuncAnteilKleinerAls:  {min: 2, max: 2},
	FuncQuerMax:           {min: 2, max: -1},
	FuncQuerMin:           {min: 2, max: -1},
	FuncGroesserAls:       {min: 2, max: 2},
	FuncRound:             {min: 2, max: 2},
	FuncConvRKMG:          {min: 2, max: 2},
	FuncIMax:              {min: 1, max: 1},
	FuncIMin:              {min: 1, max: 1},
}

// KnownFunction reports whether name is one of the built-in functions.
func KnownFunction(name FormulaFunction) bool {
	_, ok := functionArities[name]
	return ok
}

// ArityValid reports whether count satisfies the function's arity bounds.
func ArityValid(name FormulaFunction, count int) bool {
	bounds, ok := functionArities[name]
	if !ok {
		return false
	}
	if count < bounds.min {
		return false
	}
	if bounds.max >= 0 && count > bounds.max {
		return false
	}
	return true
}

// Comparators accepted by Wenn_Dann string parameters.
var comparators = map[string]struct{}{
	">":  {},
	"<":  {},
	">=": {},
	"<=": {},
	"==": {},
}

// ValidComparator reports whether s is an accepted comparison operator.
func ValidComparator(s string) bool {
	_, ok := comparators[s]
	return ok
}
