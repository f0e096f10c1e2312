package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrUnauthorized         = errors.New("authentication required")
	ErrForbidden            = errors.New("access denied")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrTooManyRequests      = errors.New("too many requests")
	ErrPolishFailed         = errors.New("polish processing failed")
	ErrBillingDisabled      = errors.New("billing is not configured")

	// Storage errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)

// RateLimitError is returned when a caller exceeded the ceiling of a rate-limit class.
type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %ds", e.Class, e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrTooManyRequests }

// RetryAfterSeconds rounds up so a client never retries early.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Invalid wraps ErrInvalidArgument with a human readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
