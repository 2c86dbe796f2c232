package room

import "errors"

var (
	// ErrNotFound is returned when a room is absent or past its TTL.
	ErrNotFound = errors.New("room not found or expired")

	// ErrValidation marks malformed requests: a missing upload, a bad
	// message payload.
	ErrValidation = errors.New("invalid request")

	// ErrStorage wraps failures of the file storage backend.
	ErrStorage = errors.New("file storage failure")

	// ErrPersistence wraps failures of the room store itself.
	ErrPersistence = errors.New("room store unavailable")
)

// ValidationError names the offending field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
