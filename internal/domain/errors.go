package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientCredit     = errors.New("insufficient credit")
	ErrCircuitOpen            = errors.New("circuit open")
	ErrSubmissionFailed       = errors.New("submission failed")
	ErrMalformedNotification  = errors.New("malformed notification")
	ErrUnknownJob             = errors.New("unknown job")
	ErrQualityBelowThreshold  = errors.New("quality below threshold")
	ErrRefundWriteFailed      = errors.New("refund write failed")
	ErrDuplicateOperation     = errors.New("duplicate operation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// InsufficientCreditError reports how far a balance falls short of a requirement.
type InsufficientCreditError struct {
	Required  int64
	Available int64
	// Batch is set when the requirement is the aggregate of a batch.
	Batch bool
}

func (e *InsufficientCreditError) Error() string {
	if e.Batch {
		return fmt.Sprintf("insufficient credit for whole batch: need %d, have %d", e.Required, e.Available)
	}
	return fmt.Sprintf("insufficient credit: need %d, have %d", e.Required, e.Available)
}

func (e *InsufficientCreditError) Unwrap() error {
	return ErrInsufficientCredit
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
