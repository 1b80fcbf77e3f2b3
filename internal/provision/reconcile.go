package provision

import (
	"context"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
)

// ComplianceState classifies the outcome of reconciling one group.
type ComplianceState string

const (
	// StateCompliant means the backing group converged with its policy.
	StateCompliant ComplianceState = "COMPLIANT"
	// StateNonCompliant means a policy exists but reconciliation
	// failed; Err carries the structured cause.
	StateNonCompliant ComplianceState = "NON_COMPLIANT"
	// StateOrphaned means a backing group exists in the directory but
	// no policy covers it.
	StateOrphaned ComplianceState = "ORPHANED"
)

// GroupCompliance is the reconciliation outcome for one group.
type GroupCompliance struct {
	Group auth.JitGroupID
	State ComplianceState

	// Err is set for non-compliant groups. It is kept structured so
	// the API layer can render it.
	Err error
}

// ReconcileEnvironment reconciles every group of an environment and
// reports orphaned backing groups. Per-group failures are reported,
// not returned; the error return covers only the directory listing.
func (p *Provisioner) ReconcileEnvironment(ctx context.Context, env *policy.EnvironmentPolicy) ([]GroupCompliance, error) {
	var results []GroupCompliance

	covered := map[auth.GroupID]bool{}
	for _, system := range env.Systems() {
		for _, group := range system.Groups() {
			covered[p.GroupID(group)] = true

			if err := p.Reconcile(ctx, group); err != nil {
				results = append(results, GroupCompliance{
					Group: group.ID(),
					State: StateNonCompliant,
					Err:   err,
				})
				continue
			}
			results = append(results, GroupCompliance{
				Group: group.ID(),
				State: StateCompliant,
			})
		}
	}

	provisioned, err := p.ProvisionedGroups(ctx, env.Name())
	if err != nil {
		return nil, err
	}
	for _, groupID := range provisioned {
		if covered[groupID] {
			continue
		}
		id, err := p.groups.mapping.JitGroupFromGroup(groupID)
		if err != nil {
			continue
		}
		results = append(results, GroupCompliance{
			Group: id,
			State: StateOrphaned,
		})
	}

	return results, nil
}
