package model

import (
	"errors"
	"fmt"
)

// MappingError signals a document too malformed or incomplete to normalize
// into the canonical model. It is terminal for the submission: the document
// itself is at fault, so the task must never retry it.
type MappingError struct {
	Format  Format
	Path    string
	Message string
	Cause   error
}

func (e *MappingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] mapping failed at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] mapping failed: %s", e.Format, e.Message)
}

func (e *MappingError) Unwrap() error {
	return e.Cause
}

// NewMappingError creates a mapping error naming the offending path.
func NewMappingError(format Format, path, message string) *MappingError {
	return &MappingError{Format: format, Path: path, Message: message}
}

// ConstraintError signals a canonical-model constraint violation during
// assembly. Mappers wrap it into a MappingError.
type ConstraintError struct {
	Field   string
	Message string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violated on %s: %s", e.Field, e.Message)
}

// NewConstraintError creates a new constraint error.
func NewConstraintError(field, message string) *ConstraintError {
	return &ConstraintError{Field: field, Message: message}
}

// InfraError marks a transient infrastructure failure (storage, database,
// network). It propagates to the task runner, which re-queues with backoff.
type InfraError struct {
	Op      string
	Message string
	Cause   error
}

func (e *InfraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("infrastructure failure [%s]: %s (%v)", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("infrastructure failure [%s]: %s", e.Op, e.Message)
}

func (e *InfraError) Unwrap() error {
	return e.Cause
}

// NewInfraError creates a new infrastructure error.
func NewInfraError(op, message string, cause error) *InfraError {
	return &InfraError{Op: op, Message: message, Cause: cause}
}

// IsInfraError reports whether err is (or wraps) an infrastructure failure.
func IsInfraError(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// ToolError marks a failure of the external rule-validation tool: missing
// runtime, timeout, or a run that produced no report. Classified as a
// technical fault, not a data fault.
type ToolError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rule tool failure [%s]: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("rule tool failure [%s]: %s", e.Code, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a new external-tool error.
func NewToolError(code, message string, cause error) *ToolError {
	return &ToolError{Code: code, Message: message, Cause: cause}
}
