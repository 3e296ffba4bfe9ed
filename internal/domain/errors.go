package domain

import (
	"errors"
	"fmt"
)

// Error codes returned in the webhook envelope.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodePrecondition     = "PRECONDITION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeTransition       = "INVALID_TRANSITION"
	CodeUnsupportedEvent = "UNSUPPORTED_EVENT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ValidationError reports a missing or malformed required payload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PreconditionError reports a referenced transaction that exists but is in
// the wrong status for the requested action.
type PreconditionError struct {
	TransactionType string
	Expected        string
	Actual          string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s must be in status %q, currently %q", e.TransactionType, e.Expected, e.Actual)
}

// NotFoundError reports a referenced entity or transaction that does not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// TransitionError reports a from→to pair the state machine rejects, or a
// conditional update that found a stale from-status. Callers must not retry
// blindly: the precondition may be violated business logic, not a race.
type TransitionError struct {
	TransactionType string
	From            string
	To              string
	Stale           bool
}

func (e *TransitionError) Error() string {
	if e.Stale {
		return fmt.Sprintf("transition %s -> %s on %s lost to a concurrent update", e.From, e.To, e.TransactionType)
	}
	return fmt.Sprintf("transition %s -> %s is not allowed for %s", e.From, e.To, e.TransactionType)
}

// StoreError wraps a backing-store failure. Its message is safe to log but
// must not reach clients verbatim.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to its envelope code. Unrecognized errors are
// internal failures.
func ErrorCode(err error) string {
	var (
		ve *ValidationError
		pe *PreconditionError
		ne *NotFoundError
		te *TransitionError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &pe):
		return CodePrecondition
	case errors.As(err, &ne):
		return CodeNotFound
	case errors.As(err, &te):
		return CodeTransition
	default:
		return CodeInternal
	}
}

// IsBusinessError reports whether the error is an expected business outcome
// (logged at warn level) as opposed to a store or programming failure.
func IsBusinessError(err error) bool {
	return ErrorCode(err) != CodeInternal
}
