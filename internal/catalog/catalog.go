// Package catalog exposes the policy tree as subject-scoped views and
// hosts the join-operation state machine. It is the entry point the
// API layer uses to look up and join groups.
package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/provision"
)

// Environment pairs an environment policy with the provisioner that is
// authoritative for it.
type Environment struct {
	Policy      *policy.EnvironmentPolicy
	Provisioner *provision.Provisioner
}

// Source supplies environments to the catalog.
type Source interface {
	// Environments lists the bare (name, description) headers of all
	// registered environments without loading full policies.
	Environments() []policy.Header

	// Lookup loads an environment by name. A failed or missing load
	// reports ok=false; the cause is logged, not returned, so callers
	// cannot distinguish a hidden environment from a broken one.
	Lookup(ctx context.Context, name string) (*Environment, bool)
}

// Catalog is the subject-scoped entry point over a source.
type Catalog struct {
	source  Source
	subject auth.Subject
}

// NewCatalog scopes a source to one subject.
func NewCatalog(source Source, subject auth.Subject) *Catalog {
	return &Catalog{source: source, subject: subject}
}

// Subject returns the subject the catalog is scoped to.
func (c *Catalog) Subject() auth.Subject { return c.subject }

// Environments lists environment headers sorted by name. No permission
// is required: checking would force loading every policy, so the
// listing carries only the bare minimum of data.
func (c *Catalog) Environments() []policy.Header {
	headers := slices.Clone(c.source.Environments())
	slices.SortFunc(headers, func(a, b policy.Header) int {
		return strings.Compare(a.Name, b.Name)
	})
	return headers
}

// Environment returns a view of an environment. Requires VIEW on the
// environment node; an unknown name and a denied one are
// indistinguishable.
func (c *Catalog) Environment(ctx context.Context, name string) (*EnvironmentView, bool, error) {
	env, ok := c.source.Lookup(ctx, name)
	if !ok {
		return nil, false, nil
	}
	allowed, err := policy.IsAllowedByACL(ctx, env.Policy, c.subject, policy.PermissionView)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		return nil, false, nil
	}
	return &EnvironmentView{environment: env, subject: c.subject}, true, nil
}

// Group returns a view of a single JIT group. Requires VIEW on the
// group (evaluated through the full ancestor chain).
func (c *Catalog) Group(ctx context.Context, id auth.JitGroupID) (*JitGroupView, bool, error) {
	env, ok := c.source.Lookup(ctx, id.Environment)
	if !ok {
		return nil, false, nil
	}
	system, ok := env.Policy.System(id.System)
	if !ok {
		return nil, false, nil
	}
	group, ok := system.Group(id.Name)
	if !ok {
		return nil, false, nil
	}

	result, err := group.Analyze(c.subject, policy.PermissionView).Execute(ctx)
	if err != nil {
		return nil, false, err
	}
	if !result.IsAccessAllowed(policy.AccessDefault) {
		return nil, false, nil
	}

	return &JitGroupView{
		environment: env,
		policy:      group,
		subject:     c.subject,
	}, true, nil
}
