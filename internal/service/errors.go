package service

import "errors"

var (
	// ErrNotFound means the request, donor, or match record is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the operation does not apply to the
	// record's current state (responding twice, starting without an
	// accepted match, wrong confirmation code).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict means an accept arrived after the request was already
	// fully accepted; the attempting match was superseded.
	ErrConflict = errors.New("request already fully accepted")

	// ErrValidation means the input was rejected before any state change.
	ErrValidation = errors.New("validation failed")
)
