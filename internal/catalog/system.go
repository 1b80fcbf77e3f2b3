package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
)

// SystemView is a system in the context of one subject.
type SystemView struct {
	environment *Environment
	policy      *policy.SystemPolicy
	subject     auth.Subject
}

// Policy returns the underlying system policy.
func (v *SystemView) Policy() *policy.SystemPolicy { return v.policy }

// Groups lists the groups the subject may VIEW, sorted by ID.
func (v *SystemView) Groups(ctx context.Context) ([]*JitGroupView, error) {
	var views []*JitGroupView
	for _, group := range v.policy.Groups() {
		result, err := group.Analyze(v.subject, policy.PermissionView).Execute(ctx)
		if err != nil {
			return nil, err
		}
		if !result.IsAccessAllowed(policy.AccessDefault) {
			continue
		}
		views = append(views, &JitGroupView{
			environment: v.environment,
			policy:      group,
			subject:     v.subject,
		})
	}
	slices.SortFunc(views, func(a, b *JitGroupView) int {
		return strings.Compare(a.policy.ID().String(), b.policy.ID().String())
	})
	return views, nil
}

// Group returns a view of one group. Requires VIEW.
func (v *SystemView) Group(ctx context.Context, name string) (*JitGroupView, bool, error) {
	group, ok := v.policy.Group(name)
	if !ok {
		return nil, false, nil
	}
	result, err := group.Analyze(v.subject, policy.PermissionView).Execute(ctx)
	if err != nil {
		return nil, false, err
	}
	if !result.IsAccessAllowed(policy.AccessDefault) {
		return nil, false, nil
	}
	return &JitGroupView{
		environment: v.environment,
		policy:      group,
		subject:     v.subject,
	}, true, nil
}
