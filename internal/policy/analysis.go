package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
)

// AccessOption selects how constraint state affects an access
// decision.
type AccessOption int

const (
	// AccessDefault requires the ACL to allow and all applied
	// constraints to be satisfied.
	AccessDefault AccessOption = iota
	// AccessIgnoreConstraints requires only the ACL to allow.
	AccessIgnoreConstraints
)

// ConstraintFailure pairs a constraint with the error it raised while
// evaluating.
type ConstraintFailure struct {
	Constraint Constraint
	Err        error
}

// Analysis combines the ACL decision for a permission mask with the
// checks of one or more constraint classes. Build one with
// JitGroupPolicy.Analyze, add classes with ApplyConstraints, bind
// inputs, then Execute.
type Analysis struct {
	policy  *JitGroupPolicy
	subject auth.Subject
	mask    Permission
	checks  []*Check
	inputs  []*Property
	byName  map[string]*Property
}

// Analyze starts an analysis of whether the subject holds the
// requested permissions on this group.
func (g *JitGroupPolicy) Analyze(subject auth.Subject, mask Permission) *Analysis {
	return &Analysis{
		policy:  g,
		subject: subject,
		mask:    mask,
		byName:  map[string]*Property{},
	}
}

// ApplyConstraints adds the effective constraints of a class to the
// analysis. Inputs with the same name share one property instance.
// Returns the analysis for chaining.
func (a *Analysis) ApplyConstraints(class ConstraintClass) *Analysis {
	for _, constraint := range EffectiveConstraints(a.policy, class) {
		check := constraint.NewCheck()
		for i, p := range check.Input() {
			if shared, ok := a.byName[p.Name()]; ok {
				check.replaceInput(i, shared)
				continue
			}
			a.byName[p.Name()] = p
			a.inputs = append(a.inputs, p)
		}
		a.checks = append(a.checks, check)
	}
	return a
}

// Input returns the union of input properties across all applied
// constraints, in policy order.
func (a *Analysis) Input() []*Property {
	return a.inputs
}

// SetInput binds a raw input value by property name. Unknown names are
// rejected so callers cannot smuggle unvalidated data.
func (a *Analysis) SetInput(name, raw string) error {
	p, ok := a.byName[name]
	if !ok {
		return &InvalidInputError{Property: name, Reason: "no such input"}
	}
	return p.Set(raw)
}

// Subject returns the subject under analysis.
func (a *Analysis) Subject() auth.Subject { return a.subject }

// Policy returns the group under analysis.
func (a *Analysis) Policy() *JitGroupPolicy { return a.policy }

// Execute runs the ACL check and every applied constraint check with
// the currently bound inputs. Constraint outcomes are data on the
// result, not errors; only infrastructure failures (such as subject
// resolution) use the error return. Execute is side-effect-free and
// can be re-run after adjusting inputs.
func (a *Analysis) Execute(ctx context.Context) (*AnalysisResult, error) {
	accessAllowed, err := IsAllowedByACL(ctx, a.policy, a.subject, a.mask)
	if err != nil {
		return nil, fmt.Errorf("resolving subject %s: %w", a.subject.User(), err)
	}

	result := &AnalysisResult{
		AccessAllowed: accessAllowed,
		Input:         a.inputs,
	}

	membership, ok, err := auth.ActiveMembership(ctx, a.subject, a.policy.ID(), time.Now())
	if err != nil {
		return nil, err
	}
	if ok {
		result.ActiveMembership = &membership
	}

	subjectVars, err := a.subjectVars(ctx)
	if err != nil {
		return nil, err
	}

	for _, check := range a.checks {
		check.Context()[subjectVar] = subjectVars

		satisfied, err := check.Execute(ctx)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, ConstraintFailure{
				Constraint: check.Constraint(),
				Err:        err,
			})
		case satisfied:
			result.Satisfied = append(result.Satisfied, check.Constraint())
		default:
			result.Unsatisfied = append(result.Unsatisfied, check.Constraint())
		}
	}

	return result, nil
}

func (a *Analysis) subjectVars(ctx context.Context) (map[string]any, error) {
	principals, err := a.subject.Principals(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(principals))
	for i, p := range principals {
		names[i] = p.String()
	}
	return map[string]any{
		"email":      a.subject.User().Email(),
		"principals": names,
	}, nil
}

// AnalysisResult is the outcome of one Execute.
type AnalysisResult struct {
	AccessAllowed    bool
	Satisfied        []Constraint
	Unsatisfied      []Constraint
	Failed           []ConstraintFailure
	Input            []*Property
	ActiveMembership *auth.Principal
}

// IsAccessAllowed interprets the result under the given option.
func (r *AnalysisResult) IsAccessAllowed(opt AccessOption) bool {
	switch opt {
	case AccessIgnoreConstraints:
		return r.AccessAllowed
	default:
		return r.AccessAllowed && len(r.Unsatisfied) == 0 && len(r.Failed) == 0
	}
}

// VerifyAccessAllowed returns a typed error describing why access is
// not allowed under the given option, or nil.
func (r *AnalysisResult) VerifyAccessAllowed(opt AccessOption) error {
	if !r.AccessAllowed {
		return &AccessDeniedError{Reason: "the access control list does not grant the requested permissions"}
	}
	if opt == AccessIgnoreConstraints {
		return nil
	}
	if len(r.Failed) > 0 {
		// A missing or malformed input surfaces as invalid input, not
		// as an internal constraint failure.
		for _, failure := range r.Failed {
			var invalid *InvalidInputError
			if errors.As(failure.Err, &invalid) {
				return invalid
			}
		}
		return &ConstraintFailedError{Failures: r.Failed}
	}
	if len(r.Unsatisfied) > 0 {
		return &ConstraintUnsatisfiedError{Constraints: r.Unsatisfied}
	}
	return nil
}
