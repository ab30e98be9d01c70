package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for repository lookups
var (
	// ErrNotFound indicates a patient or encounter business id did not resolve
	// to a stored row.
	ErrNotFound = errors.New("not found")
)

// MissingInputError indicates a run could not start because a required input
// was absent and nothing stored could substitute for it. It is always fatal;
// the pipeline never degrades around it.
type MissingInputError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input %q: %s", e.Field, e.Message)
}

// NewMissingInputError creates a MissingInputError for the given field
func NewMissingInputError(field, message string) *MissingInputError {
	return &MissingInputError{Field: field, Message: message}
}

// IsMissingInput reports whether err is a MissingInputError
func IsMissingInput(err error) bool {
	var mie *MissingInputError
	return errors.As(err, &mie)
}

// PipelineError wraps an infrastructure-level fault that transitions a run to
// the Failed state. Reasoning-service faults are never wrapped in this type;
// they are recovered at the stage boundary.
type PipelineError struct {
	Stage     string
	RequestID string
	Err       error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}
