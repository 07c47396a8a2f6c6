package evaluation

import "fmt"

// EvalCode classifies evaluation failures. Codes are part of the wire
// contract: they surface unchanged in CalculationResult errors.
type EvalCode string

const (
	CodeUnknownFunction  EvalCode = "UNKNOWN_FUNCTION"
	CodeArityMismatch    EvalCode = "ARITY_MISMATCH"
	CodeTypeMismatch     EvalCode = "TYPE_MISMATCH"
	CodeUnboundReference EvalCode = "UNBOUND_REFERENCE"
	CodeAlignment        EvalCode = "ALIGNMENT_ERROR"
	CodeDivisionByZero   EvalCode = "DIVISION_BY_ZERO"
	CodeCancelled        EvalCode = "CANCELLED"
)

// EvalError is the tagged failure result of an evaluation. Evaluation never
// lets any other error type escape.
type EvalError struct {
	Code    EvalCode `json:"code"`
	Message string   `json:"message"`
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func evalErrorf(code EvalCode, format string, args ...any) *EvalError {
	return &EvalError{Code: code, Message: fmt.Sprintf(format, args...)}
}
