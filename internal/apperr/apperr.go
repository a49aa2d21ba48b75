// Package apperr defines the error taxonomy shared across services, the sync
// engine and the scheduler. Handlers map these onto HTTP statuses; the sync
// engine uses the sentinels to tell permanent skips from transient failures.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing datasource, task or document.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSchedule reports a schedule string that is neither a valid
	// cron expression nor a future timestamp.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrLocked is the normal skip signal: another worker currently owns the
	// object (or the remote side reported the same collision).
	ErrLocked = errors.New("already being processed")

	// ErrPermanentIngest marks a 400-class ingest rejection. The object is
	// logged and skipped; no ledger row is written.
	ErrPermanentIngest = errors.New("permanent ingest failure")
)

// ValidationError reports connection parameters that fail their type-specific
// requirements or the live connectivity probe. Never retried automatically.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation: %s: %v", e.Message, e.Cause)
	}
	return "validation: " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func ValidationWrap(cause error, format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ConflictError reports a uniqueness violation (duplicate datasource name,
// duplicate (parent, type, schedule) task).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }

func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// PermissionError reports a denied action for an authenticated principal.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return "forbidden: " + e.Message }

func Permission(format string, args ...interface{}) error {
	return &PermissionError{Message: fmt.Sprintf(format, args...)}
}

// UnauthorizedError reports a missing or unusable credential.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.Message }

func Unauthorized(format string, args ...interface{}) error {
	return &UnauthorizedError{Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsPermission(err error) bool {
	var p *PermissionError
	return errors.As(err, &p)
}

func IsUnauthorized(err error) bool {
	var u *UnauthorizedError
	return errors.As(err, &u)
}
