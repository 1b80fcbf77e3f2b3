package policy

import (
	"fmt"
	"strings"
)

// AccessDeniedError indicates that the subject lacks the permissions
// required for an operation, or that the operation is in a state that
// forbids it (such as executing a join that requires approval).
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}

// InvalidInputError indicates that an input property could not be
// parsed, is out of range, or is missing.
type InvalidInputError struct {
	Property string
	Reason   string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for %q: %s", e.Property, e.Reason)
}

// ConstraintUnsatisfiedError indicates that one or more constraints
// evaluated to false.
type ConstraintUnsatisfiedError struct {
	Constraints []Constraint
}

func (e *ConstraintUnsatisfiedError) Error() string {
	names := make([]string, len(e.Constraints))
	for i, c := range e.Constraints {
		names[i] = c.Name()
	}
	return "constraints not satisfied: " + strings.Join(names, ", ")
}

// ConstraintFailedError indicates that one or more constraints threw
// while evaluating. The underlying causes are preserved.
type ConstraintFailedError struct {
	Failures []ConstraintFailure
}

func (e *ConstraintFailedError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s (%v)", f.Constraint.Name(), f.Err)
	}
	return "constraints failed to evaluate: " + strings.Join(names, ", ")
}

// Unwrap exposes the first underlying cause.
func (e *ConstraintFailedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
