package types

import (
	"errors"
	"fmt"
)

// Error classes. Typed errors below match these with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrSimulation          = errors.New("simulation error")
	ErrSubmission          = errors.New("submission error")
	ErrPartialSubmission   = errors.New("partial submission ambiguity")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrStalePlan           = errors.New("plan snapshot is stale")
	ErrSignerBusy          = errors.New("no signer available")
)

// ValidationError reports malformed pool or path data
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SimulationError reports a deterministic dry-run failure of one bundle transaction
type SimulationError struct {
	Index         int
	Reason        string
	UnitsConsumed uint64
	Logs          []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed at transaction %d: %s", e.Index, e.Reason)
}

func (e *SimulationError) Is(target error) bool {
	return target == ErrSimulation
}

// SubmissionError reports a relay or network failure after retries
type SubmissionError struct {
	StatusCode int
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submission failed after %d attempt(s) with status %d: %v", e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submission failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

// IsValidation reports whether err should cause a silent skip
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
