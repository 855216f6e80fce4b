package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned when a query descriptor or payload is malformed
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied is returned when the caller lacks the privilege for an operation
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned when a document is not found
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned when trying to create a document that already exists
	ErrExists = errors.New("document already exists")
	// ErrLimitExceeded is returned when a connection reached its live query ceiling
	ErrLimitExceeded = errors.New("limit for live queries per connection reached")
	// ErrStoreFailure is returned when the underlying store fails a query or a write
	ErrStoreFailure = errors.New("store failure")
	// ErrInvalidSubscription is returned when stopping a live query that is not attached
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// Validationf builds an ErrValidation carrying a message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PermissionDeniedf builds an ErrPermissionDenied carrying a message.
func PermissionDeniedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// StoreError attaches diagnostic context to an opaque store cause.
//
// errors.Is(err, ErrStoreFailure) reports true for every StoreError and the
// original cause stays reachable through errors.Unwrap.
type StoreError struct {
	Op    string
	ID    string
	Query string
	Err   error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store failure")
	if e.Op != "" {
		b.WriteString(" op=" + e.Op)
	}
	if e.ID != "" {
		b.WriteString(" id=" + e.ID)
	}
	if e.Query != "" {
		b.WriteString(" query=" + e.Query)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// NewStoreError wraps err unless it already carries one of the model sentinels.
func NewStoreError(op, id, query string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrExists, ErrValidation, ErrStoreFailure} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &StoreError{Op: op, ID: id, Query: query, Err: WrapError(err)}
}

// ErrorCode maps an error to the stable code sent to remote callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExists):
		return "exists"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrInvalidSubscription):
		return "invalid_subscription"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	case IsCanceled(err):
		return "canceled"
	default:
		return "internal"
	}
}

// WrapError wraps storage errors to model errors.
// It converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	// Check for wrapped context errors (e.g., from MongoDB driver)
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
