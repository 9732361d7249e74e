// ABOUTME: Validation error type shared by normalization, edits, and model constructors.
// ABOUTME: Callers detect it with errors.As; values are rejected, never clamped.
package models

import "fmt"

// ValidationError reports an input rejected before any state changed.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func invalid(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
