package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
)

// ErrNoExpiryConstraint indicates that a group's policy provides no
// expiry constraint, so a membership duration cannot be derived.
var ErrNoExpiryConstraint = errors.New("the group does not specify an expiry constraint")

// JitGroupView is a JIT group in the context of one subject.
type JitGroupView struct {
	environment *Environment
	policy      *policy.JitGroupPolicy
	subject     auth.Subject
}

// Policy returns the underlying group policy.
func (v *JitGroupView) Policy() *policy.JitGroupPolicy { return v.policy }

// ID returns the group's identifier.
func (v *JitGroupView) ID() auth.JitGroupID { return v.policy.ID() }

// BackingGroup returns the directory group that backs this JIT group.
func (v *JitGroupView) BackingGroup() auth.GroupID {
	return v.environment.Provisioner.GroupID(v.policy)
}

// Join starts a join operation. The self-approve branch is attempted
// first: when the subject holds JOIN and APPROVE_SELF (ACL only,
// constraints ignored), the operation applies both the JOIN and
// APPROVE constraint classes and executes without a second user.
// Otherwise the operation requires approval and applies only the JOIN
// class.
func (v *JitGroupView) Join(ctx context.Context) (*JoinOperation, error) {
	selfApprove := v.policy.
		Analyze(v.subject, policy.PermissionJoin|policy.PermissionApproveSelf).
		ApplyConstraints(policy.ConstraintClassJoin).
		ApplyConstraints(policy.ConstraintClassApprove)

	result, err := selfApprove.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if result.IsAccessAllowed(policy.AccessIgnoreConstraints) {
		return &JoinOperation{view: v, analysis: selfApprove}, nil
	}

	// The subject cannot self-approve, but they might be allowed to
	// join with approval.
	withApproval := v.policy.
		Analyze(v.subject, policy.PermissionJoin).
		ApplyConstraints(policy.ConstraintClassJoin)

	return &JoinOperation{view: v, analysis: withApproval, requiresApproval: true}, nil
}

// JoinOperation is a transient state machine over one attempted join:
// proposed, then self-approvable or approval-required, and finally
// executed or deferred.
type JoinOperation struct {
	view             *JitGroupView
	analysis         *policy.Analysis
	requiresApproval bool
}

// RequiresApproval reports whether a second user must approve.
func (op *JoinOperation) RequiresApproval() bool { return op.requiresApproval }

// User is the requesting user.
func (op *JoinOperation) User() auth.UserID { return op.view.subject.User() }

// Group is the target group.
func (op *JoinOperation) Group() auth.JitGroupID { return op.view.ID() }

// Input returns the properties required to evaluate the operation's
// constraints.
func (op *JoinOperation) Input() []*policy.Property { return op.analysis.Input() }

// SetInput binds one raw input value by name.
func (op *JoinOperation) SetInput(name, raw string) error {
	return op.analysis.SetInput(name, raw)
}

// DryRun re-executes the analysis with the currently bound inputs. It
// is side-effect-free and idempotent.
func (op *JoinOperation) DryRun(ctx context.Context) (*policy.AnalysisResult, error) {
	return op.analysis.Execute(ctx)
}

// Execute verifies the analysis, derives the expiry, and provisions
// the membership. Valid only for self-approvable operations.
func (op *JoinOperation) Execute(ctx context.Context) (auth.Principal, error) {
	if op.requiresApproval {
		return auth.Principal{}, &policy.AccessDeniedError{Reason: "the join operation requires approval"}
	}

	result, err := op.analysis.Execute(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	if err := result.VerifyAccessAllowed(policy.AccessDefault); err != nil {
		return auth.Principal{}, err
	}

	// All constraints are satisfied, so a missing expiry means the
	// policy declares none. The first satisfied expiry constraint in
	// policy order wins.
	duration, ok := extractExpiry(result)
	if !ok {
		return auth.Principal{}, fmt.Errorf("group %s: %w", op.view.ID(), ErrNoExpiryConstraint)
	}
	expiry := time.Now().Add(duration)

	if err := op.view.environment.Provisioner.ProvisionAccess(ctx, op.view.policy, op.User(), expiry); err != nil {
		return auth.Principal{}, err
	}

	return auth.JitGroupPrincipal(op.view.ID(), expiry), nil
}

// VerifyForDelegation verifies that the subject is allowed to join and
// that all join constraints are satisfied with the bound inputs, as a
// precondition to handing the operation to approvers. Valid only for
// operations that require approval.
func (op *JoinOperation) VerifyForDelegation(ctx context.Context) error {
	if !op.requiresApproval {
		return &policy.AccessDeniedError{Reason: "the join operation does not require approval"}
	}
	result, err := op.analysis.Execute(ctx)
	if err != nil {
		return err
	}
	return result.VerifyAccessAllowed(policy.AccessDefault)
}

func extractExpiry(result *policy.AnalysisResult) (time.Duration, bool) {
	for _, constraint := range result.Satisfied {
		if expiry, ok := constraint.(*policy.ExpiryConstraint); ok {
			if d, ok := expiry.ExtractExpiry(result); ok {
				return d, true
			}
		}
	}
	return 0, false
}
