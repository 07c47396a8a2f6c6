package registry

import "errors"

var (
	// ErrNilRecord is returned when a nil record is registered.
	ErrNilRecord = errors.New("registry: nil record")
	// ErrNotFound is returned when a formula id or version is unknown.
	ErrNotFound = errors.New("registry: formula not found")
	// ErrConflict is returned when a concurrent register for the same
	// formulaId won the version race. Callers retry with a fresh read.
	ErrConflict = errors.New("registry: version conflict")
	// ErrInvalidDecision is returned for a decision other than accept/reject.
	ErrInvalidDecision = errors.New("registry: invalid decision")
	// ErrRetired is returned when mutating a retired formula.
	ErrRetired = errors.New("registry: formula retired")
	// ErrUnavailable is returned when the backing store stays unreachable
	// after internal retries.
	ErrUnavailable = errors.New("registry: store unavailable")
)
