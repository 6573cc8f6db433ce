package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-stream/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type StreamError struct {
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// ConnectionError is returned when the initial handshake with the upstream
// endpoint fails.
type ConnectionError struct{ StreamError }

// NotConnectedError is returned by Invoke outside the Connected state.
type NotConnectedError struct {
	StreamError
	Method string
}

type ConfigurationError struct{ StreamError }
type NetworkError struct{ StreamError }
type DatabaseError struct{ StreamError }
type ValidationError struct{ StreamError }

// -----------------------------------------------------------------------------

func NewConnectionError(url string, cause error) *ConnectionError {
	return &ConnectionError{StreamError{Message: fmt.Sprintf("connect to %s failed", url), Cause: cause}}
}

func NewNotConnectedError(method string, state string) *NotConnectedError {
	return &NotConnectedError{
		StreamError: StreamError{Message: fmt.Sprintf("cannot invoke %s while %s", method, state)},
		Method:      method,
	}
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{StreamError{Message: fmt.Sprintf(format, args...)}}
}

// IsNotConnected reports whether err (or any error it wraps) is a NotConnectedError.
func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// BackoffDelay returns the delay before the given attempt (0-based). Attempts
// past the end of the schedule hold at its last value.
func BackoffDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

// Sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries+1 times, waiting baseDelay*attempt^2
// between attempts. Validation errors are not retried.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt*attempt)
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt, maxRetries+1, operation, lastErr, delay)
			if !Sleep(ctx, delay) {
				return zero, ctx.Err()
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if IsValidation(err) {
			break
		}
	}

	return zero, &NetworkError{StreamError{Message: fmt.Sprintf("%s failed after retries", operation), Cause: lastErr}}
}
