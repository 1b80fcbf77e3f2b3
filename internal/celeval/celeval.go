// Package celeval wraps cel-go for constraint expressions. Expressions
// see two variables: input (the typed constraint inputs) and subject
// (attributes of the requesting user).
package celeval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength caps constraint expressions.
const maxExpressionLength = 1024

// maxCostBudget limits CEL runtime cost to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth limits parenthesis/bracket nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations)
// context cancellation is checked.
const interruptCheckFreq = 100

// NewEnv creates the CEL environment for constraint expressions.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Program is a compiled constraint expression.
type Program struct {
	prg cel.Program
}

// Compile parses, checks, and plans an expression against the
// constraint environment.
func Compile(env *cel.Env, expression string) (*Program, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &Program{prg: prg}, nil
}

// EvalBool evaluates the program against the given activation and
// requires a boolean result.
func (p *Program) EvalBool(ctx context.Context, input, subject map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(ctx, map[string]any{
		"input":   input,
		"subject": subject,
	})
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
