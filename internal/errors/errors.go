// Package errors defines the error taxonomy for evidence reconciliation.
//
// Per-item errors (validation, staleness, duplicates, upstream failures) are
// converted into ledger statuses at the item boundary and never abort a batch;
// only infrastructure errors from the store propagate to the caller.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateClaim  = errors.New("evidence already claimed")
	ErrStaleEvent      = errors.New("evidence older than last applied event")
	ErrAuthExpired     = errors.New("upstream credential expired")
	ErrInvalidEvidence = errors.New("invalid evidence")
	ErrQuotaExceeded   = errors.New("upstream quota exceeded")
	ErrTimeout         = errors.New("timeout")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeStale      ErrorType = "stale"
	ErrorTypeDuplicate  ErrorType = "duplicate"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeStore      ErrorType = "store"
)

// ReconcileError is a structured error for reconciliation operations
type ReconcileError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "apply_evidence", "scan_emails")
	Service   string // External service or merchant identity if applicable
	UserID    string
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *ReconcileError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ReconcileError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrInvalidEvidence:
		return e.Type == ErrorTypeValidation
	case ErrStaleEvent:
		return e.Type == ErrorTypeStale
	case ErrDuplicateClaim:
		return e.Type == ErrorTypeDuplicate
	case ErrAuthExpired:
		return e.Type == ErrorTypeAuth
	}

	return errors.Is(e.Err, target)
}

// New creates a new ReconcileError
func New(errorType ErrorType, op string, err error) *ReconcileError {
	return &ReconcileError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithService adds the external service or merchant identity to the error
func (e *ReconcileError) WithService(service string) *ReconcileError {
	e.Service = service
	return e
}

// WithUser adds the user the failed item belongs to
func (e *ReconcileError) WithUser(userID string) *ReconcileError {
	e.UserID = userID
	return e
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeExternal, ErrorTypeStore:
		// The ledger records these as failed so a later pass retries them.
		return true
	default:
		// Validation, staleness, duplicates, and a second auth failure are
		// terminal for the item.
		return false
	}
}

// Helper functions

// WrapValidation wraps a missing-field or malformed-evidence error
func WrapValidation(op string, err error) error {
	return New(ErrorTypeValidation, op, err)
}

// WrapExternal wraps an upstream service error (AI, email, bank)
func WrapExternal(op, service string, err error) error {
	return New(ErrorTypeExternal, op, err).WithService(service)
}

// WrapStore wraps a persistence error
func WrapStore(op string, err error) error {
	return New(ErrorTypeStore, op, err)
}

// IsRetryableError checks if a future pass may reattempt the item
func IsRetryableError(err error) bool {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.Retryable
	}
	return errors.Is(err, ErrTimeout)
}

// IsAuthExpired checks if an error indicates an expired upstream credential
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	var recErr *ReconcileError
	if errors.As(err, &recErr) && recErr.Type == ErrorTypeAuth {
		return true
	}
	return errors.Is(err, ErrAuthExpired)
}
