package submission

import "errors"

var (
	// ErrNilSubmission is returned when a nil submission is handled.
	ErrNilSubmission = errors.New("submission: nil submission")
	// ErrEmptyMessageID is returned when the envelope has no messageId.
	ErrEmptyMessageID = errors.New("submission: empty message id")
	// ErrNoFormulas is returned when the envelope carries no formulas.
	ErrNoFormulas = errors.New("submission: no formulas")
	// ErrNotFound is returned when a messageId is unknown.
	ErrNotFound = errors.New("submission: not found")
	// ErrInvalidTransition is returned on an illegal state change.
	ErrInvalidTransition = errors.New("submission: invalid state transition")
)
