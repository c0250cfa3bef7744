// Package errs defines the error taxonomy shared by the store, the ledger and
// its callers. All errors are operation-scoped; none of them are fatal.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports bad caller input. Message is meant to be shown verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvariantViolation reports an operation that would corrupt ledger state.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string {
	return e.Message
}

func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func NotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

func Invariant(format string, args ...any) error {
	return &InvariantViolation{Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvariant(err error) bool {
	var target *InvariantViolation
	return errors.As(err, &target)
}
