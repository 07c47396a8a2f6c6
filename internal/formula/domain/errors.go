package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrNilFormula is returned when a nil formula is validated.
	ErrNilFormula = errors.New("formula: nil formula")
	// ErrNilExpression is returned when a formula carries no expression.
	ErrNilExpression = errors.New("formula: nil expression")
)

// Validation error codes returned to senders.
const (
	CodeEmptyFormulaID        = "EMPTY_FORMULA_ID"
	CodeMissingExpression     = "MISSING_EXPRESSION"
	CodeUnknownFunction       = "UNKNOWN_FUNCTION"
	CodeArityMismatch         = "ARITY_MISMATCH"
	CodeParameterType         = "PARAMETER_TYPE"
	CodeInvalidComparator     = "INVALID_COMPARATOR"
	CodeElseBranchNotConstant = "ELSE_BRANCH_NOT_CONSTANT"
	CodeInputNotReferenced    = "INPUT_NOT_REFERENCED"
	CodeReferenceNotDeclared  = "REFERENCE_NOT_DECLARED"
	CodeCyclicExpression      = "CYCLIC_EXPRESSION"
	CodeExpressionTooLarge    = "EXPRESSION_TOO_LARGE"
	CodeEmptyOutputUnit       = "EMPTY_OUTPUT_UNIT"
	CodeInvalidResolution     = "INVALID_RESOLUTION"
	CodeUnknownCategory       = "UNKNOWN_CATEGORY"
	CodeScalingOutOfRange     = "SCALING_OUT_OF_RANGE"
	CodeInvalidRoundDigits    = "INVALID_ROUND_DIGITS"
	CodeEmptyConversionTable  = "EMPTY_CONVERSION_TABLE"
	CodeInvalidOBISCode       = "INVALID_OBIS_CODE"
)

// ValidationError describes one rejected aspect of a submitted formula.
// Field is a path into the wire document so senders can self-correct.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Field, e.Message)
}
