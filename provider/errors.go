package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operations.
var (
	// ErrUnknownProvider indicates the requested backend is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnavailable indicates the backend or an owning manager has been
	// torn down. Not retriable without external remediation.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidRequest indicates the request is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTimeout indicates the request timed out.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the operation was cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")
)

// Error wraps backend errors with context.
type Error struct {
	Provider  string // Backend name ("local", "remote", ...)
	Op        string // Operation that failed ("stream", "complete")
	Err       error  // Underlying error
	Retryable bool   // Whether the error is likely transient
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new backend error.
func NewError(provider, op string, err error, retryable bool) *Error {
	return &Error{
		Provider:  provider,
		Op:        op,
		Err:       err,
		Retryable: retryable,
	}
}

// IsRetryable checks if an error is likely transient and worth retrying.
// The core never retries automatically; retry policy belongs to the caller.
func IsRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return errors.Is(err, ErrTimeout)
}
