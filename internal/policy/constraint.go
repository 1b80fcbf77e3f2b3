package policy

import "context"

// Constraint is a named check gating an operation on a group. A
// constraint declares typed inputs and produces a Check that evaluates
// them for one analysis.
type Constraint interface {
	// Name identifies the constraint within its class; child policies
	// shadow parent constraints by name.
	Name() string

	// DisplayName is shown to users.
	DisplayName() string

	// NewCheck produces a fresh, evaluable instance of the constraint.
	NewCheck() *Check
}

// Check is one evaluable instance of a constraint. Its input
// properties are mutable; the analysis may substitute shared property
// instances when several constraints declare the same input name.
// Context carries evaluation variables, such as subject attributes.
type Check struct {
	constraint Constraint
	input      []*Property
	vars       map[string]any
	execute    func(ctx context.Context, check *Check) (bool, error)
}

// NewCheck assembles a check. Constraint implementations call this
// from their NewCheck method.
func NewCheck(constraint Constraint, input []*Property, execute func(ctx context.Context, check *Check) (bool, error)) *Check {
	return &Check{
		constraint: constraint,
		input:      input,
		vars:       map[string]any{},
		execute:    execute,
	}
}

// Constraint returns the constraint this check evaluates.
func (c *Check) Constraint() Constraint { return c.constraint }

// Input returns the check's input properties.
func (c *Check) Input() []*Property { return c.input }

// Context is the mutable evaluation context.
func (c *Check) Context() map[string]any { return c.vars }

// Execute evaluates the check. A false result means the constraint is
// unsatisfied; an error means the constraint failed to evaluate, which
// is a different condition.
func (c *Check) Execute(ctx context.Context) (bool, error) {
	return c.execute(ctx, c)
}

// replaceInput substitutes a shared property for the one at index i.
func (c *Check) replaceInput(i int, shared *Property) {
	c.input[i] = shared
}
