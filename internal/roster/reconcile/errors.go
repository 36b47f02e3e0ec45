package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateRegistration rejects a student whose registration number is taken.
	ErrDuplicateRegistration = errors.New("registration number already exists")

	// ErrDuplicateCourseCode rejects a course whose code is taken.
	ErrDuplicateCourseCode = errors.New("course code already exists")

	// ErrImmutableRegistration rejects an update that changes a registration number.
	ErrImmutableRegistration = errors.New("registration number cannot be changed")

	// ErrNotFound reports an update of a record that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrPullFailed wraps every failure of a reconciliation pull.
	ErrPullFailed = errors.New("reconciliation pull failed")
)

// ValidationError carries the reason a command was rejected before any write.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrValidation, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}
