// domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyExists    = errors.New("record already exists")
	ErrStorageExhausted = errors.New("local storage is full")
)

// StorageExhaustedMessage is shown to the user when the local mirror runs
// out of space.
const StorageExhaustedMessage = "Local storage is full. Free some space or clear cached data, then try again."

// ErrorCategory tells the sync layer whether retrying can help.
type ErrorCategory int

const (
	CategoryTransient ErrorCategory = iota + 1
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// BackendError wraps a document store failure with its category.
type BackendError struct {
	Err      error
	Category ErrorCategory
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend error: %v", e.Category, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func TransientError(err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Err: err, Category: CategoryTransient}
}

func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Err: err, Category: CategoryPermanent}
}

func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Category == CategoryTransient
}

// IsPermanent treats uncategorized errors as permanent: only errors known to
// be transient are worth retrying.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
