package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/provision"

	"github.com/groupgate/groupgate/internal/auth"
)

// EnvironmentView is an environment in the context of one subject.
type EnvironmentView struct {
	environment *Environment
	subject     auth.Subject
}

// Policy returns the underlying environment policy.
func (v *EnvironmentView) Policy() *policy.EnvironmentPolicy {
	return v.environment.Policy
}

// Systems lists the systems the subject may VIEW, sorted by name.
func (v *EnvironmentView) Systems(ctx context.Context) ([]*SystemView, error) {
	var views []*SystemView
	for _, system := range v.environment.Policy.Systems() {
		allowed, err := policy.IsAllowedByACL(ctx, system, v.subject, policy.PermissionView)
		if err != nil {
			return nil, err
		}
		if allowed {
			views = append(views, &SystemView{environment: v.environment, policy: system, subject: v.subject})
		}
	}
	slices.SortFunc(views, func(a, b *SystemView) int {
		return strings.Compare(a.policy.Name(), b.policy.Name())
	})
	return views, nil
}

// System returns a view of one system. Requires VIEW.
func (v *EnvironmentView) System(ctx context.Context, name string) (*SystemView, bool, error) {
	system, ok := v.environment.Policy.System(name)
	if !ok {
		return nil, false, nil
	}
	allowed, err := policy.IsAllowedByACL(ctx, system, v.subject, policy.PermissionView)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		return nil, false, nil
	}
	return &SystemView{environment: v.environment, policy: system, subject: v.subject}, true, nil
}

// CanExport reports whether the subject may export the policy
// document.
func (v *EnvironmentView) CanExport(ctx context.Context) (bool, error) {
	return policy.IsAllowedByACL(ctx, v.environment.Policy, v.subject, policy.PermissionExport)
}

// Export returns the canonical policy document. Requires EXPORT.
func (v *EnvironmentView) Export(ctx context.Context) (*policy.PolicyDocument, error) {
	allowed, err := v.CanExport(ctx)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &policy.AccessDeniedError{Reason: "exporting the policy requires EXPORT"}
	}
	return policy.DocumentFromPolicy(v.environment.Policy), nil
}

// CanReconcile reports whether the subject may reconcile the
// environment.
func (v *EnvironmentView) CanReconcile(ctx context.Context) (bool, error) {
	return policy.IsAllowedByACL(ctx, v.environment.Policy, v.subject, policy.PermissionReconcile)
}

// Reconcile converges every group of the environment and reports
// per-group compliance. Requires RECONCILE.
func (v *EnvironmentView) Reconcile(ctx context.Context) ([]provision.GroupCompliance, error) {
	allowed, err := v.CanReconcile(ctx)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &policy.AccessDeniedError{Reason: "reconciling requires RECONCILE"}
	}
	return v.environment.Provisioner.ReconcileEnvironment(ctx, v.environment.Policy)
}
