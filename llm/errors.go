package llm

import (
	"errors"
	"fmt"
)

// Error types for classifying transport errors inside the client.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Error types surfaced by the generation loop.

// ModelTransportError is returned when the model could not be called or
// answered with an empty body. The generation loop never retries it.
type ModelTransportError struct {
	Attempt int
	Err     error
}

func (e *ModelTransportError) Error() string {
	return fmt.Sprintf("model transport failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *ModelTransportError) Unwrap() error {
	return e.Err
}

// ModelParseError is returned when no JSON document could be extracted
// from a model response.
type ModelParseError struct {
	// Preview is a truncated copy of the offending content.
	Preview string
	Err     error
}

func (e *ModelParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model returned non-JSON content: %v", e.Err)
	}
	return "model returned non-JSON content"
}

func (e *ModelParseError) Unwrap() error {
	return e.Err
}

// ValidationExhaustedError is the terminal error of the generation loop when
// every attempt produced output that failed validation.
type ValidationExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ValidationExhaustedError) Error() string {
	return fmt.Sprintf("output failed validation after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ValidationExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsParseError reports whether err carries a ModelParseError.
func IsParseError(err error) bool {
	var parseErr *ModelParseError
	return errors.As(err, &parseErr)
}

// IsTransportError reports whether err carries a ModelTransportError.
func IsTransportError(err error) bool {
	var transportErr *ModelTransportError
	return errors.As(err, &transportErr)
}

// IsValidationExhausted reports whether err carries a ValidationExhaustedError.
func IsValidationExhausted(err error) bool {
	var exhausted *ValidationExhaustedError
	return errors.As(err, &exhausted)
}

// preview truncates s for inclusion in errors and debug logs.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
