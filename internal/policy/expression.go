package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/groupgate/groupgate/internal/celeval"
)

// subjectVar is the context key under which the analysis publishes
// subject attributes to expression checks.
const subjectVar = "subject"

var (
	sharedEnvOnce sync.Once
	sharedEnv     *cel.Env
	sharedEnvErr  error
)

func expressionEnv() (*cel.Env, error) {
	sharedEnvOnce.Do(func() {
		sharedEnv, sharedEnvErr = celeval.NewEnv()
	})
	return sharedEnv, sharedEnvErr
}

// ExpressionConstraint evaluates a boolean CEL expression over the
// declared inputs (input.<name>) and the subject (subject.email,
// subject.principals). The expression is compiled once, when the
// constraint is created; an expression that throws at evaluation time
// fails the constraint rather than leaving it unsatisfied.
type ExpressionConstraint struct {
	name        string
	displayName string
	class       ConstraintClass
	expression  string
	variables   []*Property
	program     *celeval.Program
}

// NewExpressionConstraint compiles the expression and declares its
// input variables.
func NewExpressionConstraint(name, displayName string, class ConstraintClass, expression string, variables []*Property) (*ExpressionConstraint, error) {
	env, err := expressionEnv()
	if err != nil {
		return nil, err
	}
	program, err := celeval.Compile(env, expression)
	if err != nil {
		return nil, fmt.Errorf("constraint %q: %w", name, err)
	}
	return &ExpressionConstraint{
		name:        name,
		displayName: displayName,
		class:       class,
		expression:  expression,
		variables:   variables,
		program:     program,
	}, nil
}

func (c *ExpressionConstraint) Name() string        { return c.name }
func (c *ExpressionConstraint) DisplayName() string { return c.displayName }

// Class returns the operation class this constraint gates.
func (c *ExpressionConstraint) Class() ConstraintClass { return c.class }

// Expression returns the CEL source, used when exporting policies.
func (c *ExpressionConstraint) Expression() string { return c.expression }

// Variables returns the declared input properties, used when exporting
// policies.
func (c *ExpressionConstraint) Variables() []*Property { return c.variables }

// NewCheck declares fresh input properties so concurrent analyses do
// not share state.
func (c *ExpressionConstraint) NewCheck() *Check {
	input := make([]*Property, len(c.variables))
	for i, v := range c.variables {
		input[i] = NewProperty(v.Name(), v.DisplayName(), v.Type(), v.Required(), v.minInclusive, v.maxInclusive)
	}
	return NewCheck(c, input, c.evaluate)
}

func (c *ExpressionConstraint) evaluate(ctx context.Context, check *Check) (bool, error) {
	inputVars := map[string]any{}
	for _, p := range check.Input() {
		if err := p.VerifyRequired(); err != nil {
			return false, err
		}
		if value, ok := p.Value(); ok {
			inputVars[p.Name()] = value
		}
	}

	subject, _ := check.Context()[subjectVar].(map[string]any)
	if subject == nil {
		subject = map[string]any{}
	}

	return c.program.EvalBool(ctx, inputVars, subject)
}
