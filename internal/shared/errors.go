package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionFailed indicates the entity exists but its state forbids the operation.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict indicates the operation is blocked by a dependent entity.
	ErrConflict = errors.New("conflict")
	// ErrTransaction indicates the atomic section could not be committed.
	ErrTransaction = errors.New("transaction failed")
	// ErrUnauthorized indicates a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the identity lacks the required rank.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConflictError reports the identifiers blocking an operation. When Field is
// set the identifiers are returned to clients under that key.
type ConflictError struct {
	Message  string
	Field    string
	Blocking []string
}

// Payload returns the client-facing content for the blocking identifiers.
func (e *ConflictError) Payload() any {
	if len(e.Blocking) == 0 {
		return nil
	}
	if e.Field == "" {
		return e.Blocking
	}
	return map[string][]string{e.Field: e.Blocking}
}

func (e *ConflictError) Error() string {
	if len(e.Blocking) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Blocking, ", "))
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Preconditionf wraps ErrPreconditionFailed with a formatted message.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

// Transactionf wraps ErrTransaction with a formatted message.
func Transactionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransaction, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidCredentials):
		return err.Error()
	case errors.Is(err, ErrTransaction):
		return "The operation could not be completed. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
