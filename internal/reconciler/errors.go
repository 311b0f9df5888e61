package reconciler

import (
	"errors"
	"fmt"
)

// ReconcileError classifies why an event or load could not be applied.
type ReconcileError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TrainerRef is the raw trainer identifier carried by the event, if any.
	TrainerRef string

	// CertKey identifies the affected certification, if any.
	CertKey string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes reconcile errors.
type ErrorCode string

const (
	// ErrCodeUnresolvable indicates the trainer identifier matches no loaded trainer.
	ErrCodeUnresolvable ErrorCode = "UNRESOLVABLE_IDENTIFIER"

	// ErrCodeMalformed indicates the event lacks a field that cannot be defaulted.
	ErrCodeMalformed ErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeTransientFetch indicates a backend call failed.
	ErrCodeTransientFetch ErrorCode = "TRANSIENT_FETCH"

	// ErrCodeDisposed indicates the reconciler no longer accepts work.
	ErrCodeDisposed ErrorCode = "DISPOSED"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CertKey != "" {
		msg += fmt.Sprintf(" (cert=%s", e.CertKey)
		if e.TrainerRef != "" {
			msg += fmt.Sprintf(", trainer=%s", e.TrainerRef)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnresolvable reports whether err is an unresolvable identifier error.
func IsUnresolvable(err error) bool {
	return hasCode(err, ErrCodeUnresolvable)
}

// IsMalformed reports whether err is a malformed payload error.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformed)
}

// IsTransientFetch reports whether err is a failed backend call.
func IsTransientFetch(err error) bool {
	return hasCode(err, ErrCodeTransientFetch)
}

// IsDisposed reports whether err was returned by a disposed reconciler.
func IsDisposed(err error) bool {
	return hasCode(err, ErrCodeDisposed)
}

func newUnresolvableError(ref, certKey string) *ReconcileError {
	return &ReconcileError{
		Code:       ErrCodeUnresolvable,
		Message:    "trainer identifier matches no loaded trainer",
		TrainerRef: ref,
		CertKey:    certKey,
	}
}

func newMalformedError(msg, ref, certKey string) *ReconcileError {
	return &ReconcileError{
		Code:       ErrCodeMalformed,
		Message:    msg,
		TrainerRef: ref,
		CertKey:    certKey,
	}
}

func newTransientFetchError(op string, err error) *ReconcileError {
	return &ReconcileError{
		Code:    ErrCodeTransientFetch,
		Message: op + " failed",
		Err:     err,
	}
}

var errDisposed = &ReconcileError{
	Code:    ErrCodeDisposed,
	Message: "reconciler disposed",
}
