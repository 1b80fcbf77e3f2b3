package provision

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Provisioner converges the external directory and resource manager
// with a policy: the backing group, the member's temporary membership,
// and the IAM role bindings the group confers.
type Provisioner struct {
	groups *GroupProvisioner
	iam    *IAMProvisioner
}

// NewProvisioner wires the two sub-provisioners.
func NewProvisioner(mapping *auth.GroupMapping, directory outbound.Directory, resourceManager outbound.ResourceManager, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		groups: &GroupProvisioner{mapping: mapping, directory: directory, logger: logger},
		iam:    &IAMProvisioner{directory: directory, resourceManager: resourceManager, logger: logger},
	}
}

// GroupID returns the directory group backing a JIT group.
func (p *Provisioner) GroupID(group *policy.JitGroupPolicy) auth.GroupID {
	return p.groups.mapping.GroupFromJitGroup(group.ID())
}

// ProvisionAccess provisions the member's temporary membership and
// converges the group's IAM role bindings. Re-running with an
// unchanged policy performs no IAM writes.
func (p *Provisioner) ProvisionAccess(ctx context.Context, group *policy.JitGroupPolicy, member auth.UserID, expiry time.Time) error {
	if err := p.groups.Provision(ctx, group, member, expiry); err != nil {
		return err
	}
	return p.iam.ProvisionAccess(ctx, p.GroupID(group), group.Privileges())
}

// Reconcile converges a group's IAM role bindings independent of any
// member, creating the backing group if needed.
func (p *Provisioner) Reconcile(ctx context.Context, group *policy.JitGroupPolicy) error {
	if _, err := p.groups.ensureGroup(ctx, group); err != nil {
		return err
	}
	return p.iam.ProvisionAccess(ctx, p.GroupID(group), group.Privileges())
}

// ProvisionedGroups lists the backing groups of an environment that
// exist in the directory, whether or not a policy still covers them.
func (p *Provisioner) ProvisionedGroups(ctx context.Context, environment string) ([]auth.GroupID, error) {
	groups, err := p.groups.directory.SearchGroupsByPrefix(ctx, p.groups.mapping.EnvironmentPrefix(environment))
	if err != nil {
		return nil, fmt.Errorf("listing provisioned groups for %q: %w", environment, err)
	}
	ids := make([]auth.GroupID, 0, len(groups))
	for _, g := range groups {
		if p.groups.mapping.IsJitGroup(g.ID) {
			ids = append(ids, g.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// GroupProvisioner creates backing groups and temporary memberships.
type GroupProvisioner struct {
	mapping   *auth.GroupMapping
	directory outbound.Directory
	logger    *slog.Logger
}

// Provision adds a temporary membership with the given expiry,
// creating the backing group first if it does not exist.
func (g *GroupProvisioner) Provision(ctx context.Context, group *policy.JitGroupPolicy, member auth.UserID, expiry time.Time) error {
	key, err := g.ensureGroup(ctx, group)
	if err != nil {
		return err
	}

	if err := g.directory.AddMembership(ctx, key, member, expiry); err != nil {
		g.logger.ErrorContext(ctx, "adding member to group failed",
			"event", "group.provision",
			"user_id", member.Email(),
			"group", group.ID().String(),
			"error", err,
		)
		return fmt.Errorf("adding %s to group %s: %w", member, group.ID(), err)
	}

	g.logger.InfoContext(ctx, "member added to group",
		"event", "group.provision",
		"user_id", member.Email(),
		"group", group.ID().String(),
		"expiry", expiry,
	)
	return nil
}

func (g *GroupProvisioner) ensureGroup(ctx context.Context, group *policy.JitGroupPolicy) (outbound.GroupKey, error) {
	id := group.ID()
	key, err := g.directory.CreateGroup(
		ctx,
		g.mapping.GroupFromJitGroup(id),
		outbound.GroupTypeSecurity,
		fmt.Sprintf("JIT Group %s › %s › %s", id.Environment, id.System, id.Name),
		group.Description())
	if err != nil {
		return "", fmt.Errorf("creating group %s: %w", id, err)
	}
	return key, nil
}

// IAMProvisioner converges IAM role bindings, short-circuiting when
// the checksum embedded in the group description matches the policy.
type IAMProvisioner struct {
	directory       outbound.Directory
	resourceManager outbound.ResourceManager
	logger          *slog.Logger
}

// ProvisionAccess converges the role bindings for a group. The
// description update is the commit point: when binding replacement
// fails part-way, the stale tag makes the next invocation retry.
func (p *IAMProvisioner) ProvisionAccess(ctx context.Context, groupID auth.GroupID, bindings []policy.IamRoleBinding) error {
	details, err := p.directory.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reading group %s: %w", groupID, err)
	}

	expected := ChecksumOfBindings(bindings)
	actual := ChecksumFromTaggedDescription(details.Description)
	if expected == actual {
		// Bindings provisioned previously are still current.
		return nil
	}

	p.logger.InfoContext(ctx, "IAM role bindings have changed, provisioning",
		"event", "iam.provision",
		"group", groupID.Email(),
		"expected_checksum", expected.String(),
		"actual_checksum", actual.String(),
	)

	principal := groupID.String()
	buckets := groupByResource(bindings)
	for _, resource := range slices.Sorted(maps.Keys(buckets)) {
		resourceBindings := buckets[resource]
		err := p.resourceManager.ModifyIamPolicy(
			ctx,
			resource,
			func(iamPolicy *outbound.IamPolicy) error {
				replaceBindingsForPrincipal(iamPolicy, principal, resourceBindings)
				return nil
			},
			"Provisioning JIT group "+groupID.Email())
		if err != nil {
			p.logger.ErrorContext(ctx, "provisioning IAM role bindings failed",
				"event", "iam.provision",
				"group", groupID.Email(),
				"resource", resource,
				"error", err,
			)
			return fmt.Errorf("updating IAM policy of %s: %w", resource, err)
		}
	}

	if err := p.directory.PatchGroup(ctx, details.Key, expected.TaggedDescription(details.Description)); err != nil {
		return fmt.Errorf("tagging group %s: %w", groupID, err)
	}

	p.logger.InfoContext(ctx, "IAM role bindings provisioned",
		"event", "iam.provision",
		"group", groupID.Email(),
		"checksum", expected.String(),
	)
	return nil
}

// groupByResource buckets bindings by resource.
func groupByResource(bindings []policy.IamRoleBinding) map[string][]policy.IamRoleBinding {
	buckets := map[string][]policy.IamRoleBinding{}
	for _, b := range bindings {
		key := b.Resource.String()
		buckets[key] = append(buckets[key], b)
	}
	return buckets
}

// replaceBindingsForPrincipal removes the principal from every
// existing binding, purges bindings left without members, and appends
// the new bindings.
func replaceBindingsForPrincipal(iamPolicy *outbound.IamPolicy, principal string, bindings []policy.IamRoleBinding) {
	kept := iamPolicy.Bindings[:0]
	for _, existing := range iamPolicy.Bindings {
		existing.Members = slices.DeleteFunc(slices.Clone(existing.Members), func(m string) bool {
			return m == principal
		})
		if len(existing.Members) > 0 {
			kept = append(kept, existing)
		}
	}
	iamPolicy.Bindings = kept

	for _, b := range bindings {
		binding := outbound.IamBinding{
			Role:    b.Role,
			Members: []string{principal},
		}
		if b.Condition != "" {
			title := b.Desc
			if title == "" {
				title = "-"
			}
			binding.Condition = &outbound.IamCondition{
				Title:      title,
				Expression: b.Condition,
			}
		}
		iamPolicy.Bindings = append(iamPolicy.Bindings, binding)
	}
}
