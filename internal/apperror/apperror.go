// Package apperror defines the failure kinds shared by the custody services.
//
// Every error returned by a workflow operation matches exactly one of the
// kind sentinels below via errors.Is, so the request layer can map it to a
// response without inspecting messages.
package apperror

import (
	"errors"
	"fmt"
)

// Failure kinds.
var (
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means a precondition was violated; the caller must correct the input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a unique field is taken or a decision was already made.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means the record store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Error is a failure of a known kind with a caller-facing message.
type Error struct {
	kind    error
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Kind returns the kind sentinel of the error.
func (e *Error) Kind() error {
	return e.kind
}

// Message returns the caller-facing message without the cause.
func (e *Error) Message() string {
	return e.message
}

// NotFound returns an ErrNotFound error with a formatted message.
func NotFound(format string, args ...any) error {
	return &Error{kind: ErrNotFound, message: fmt.Sprintf(format, args...)}
}

// Validation returns an ErrValidation error with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{kind: ErrValidation, message: fmt.Sprintf(format, args...)}
}

// Conflict returns an ErrConflict error with a formatted message.
func Conflict(format string, args ...any) error {
	return &Error{kind: ErrConflict, message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a driver failure as ErrUnavailable.
func Unavailable(op string, cause error) error {
	return &Error{kind: ErrUnavailable, message: op, cause: cause}
}

// FieldError represents a validation error on a specific input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries field-level validation failures.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return "validation failed"
}

// Is makes a ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// KindOf returns the kind sentinel matched by err, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.message
	}
	return err.Error()
}
