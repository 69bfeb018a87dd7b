package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrConversationBusy indicates that a send is already in flight for the
	// conversation. Retryable; not an infrastructure failure.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrNoProviderResponse indicates the completion provider returned nothing
	ErrNoProviderResponse = errors.New("no response from AI provider")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
