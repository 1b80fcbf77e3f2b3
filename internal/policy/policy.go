package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
)

// ConstraintClass partitions constraints by the operation they gate.
type ConstraintClass string

const (
	// ConstraintClassJoin gates joining a group.
	ConstraintClassJoin ConstraintClass = "join"
	// ConstraintClassApprove gates approving a join.
	ConstraintClassApprove ConstraintClass = "approve"
)

// Policy is a node in the environment/system/group tree. Nodes are
// immutable after the tree is assembled.
type Policy interface {
	// Name is the node's unique name within its parent.
	Name() string

	// Description is a human-readable summary.
	Description() string

	// Parent is the owning node, or nil at the root.
	Parent() Policy

	// ACL is the node's access control list. nil means everybody is
	// allowed; an empty ACL means nobody is.
	ACL() *ACL

	// Constraints returns the node's own constraints of a class, in
	// declaration order.
	Constraints(class ConstraintClass) []Constraint

	// Metadata describes the node's source, defaulting to the parent's.
	Metadata() Metadata
}

// base carries the fields shared by all node kinds. The parent pointer
// is non-owning and write-once; children own their descendants.
type base struct {
	name        string
	description string
	acl         *ACL
	constraints map[ConstraintClass][]Constraint
	metadata    *Metadata
	parent      Policy
}

func newBase(name, description string, acl *ACL, constraints map[ConstraintClass][]Constraint, metadata *Metadata) base {
	if constraints == nil {
		constraints = map[ConstraintClass][]Constraint{}
	}
	return base{
		name:        name,
		description: description,
		acl:         acl,
		constraints: constraints,
		metadata:    metadata,
	}
}

func (b *base) Name() string        { return b.name }
func (b *base) Description() string { return b.description }
func (b *base) Parent() Policy      { return b.parent }
func (b *base) ACL() *ACL           { return b.acl }

func (b *base) Constraints(class ConstraintClass) []Constraint {
	return b.constraints[class]
}

func (b *base) Metadata() Metadata {
	if b.metadata != nil {
		return *b.metadata
	}
	if b.parent != nil {
		return b.parent.Metadata()
	}
	return Metadata{}
}

// setParent links a node into the tree. It can be called exactly once.
func (b *base) setParent(self, parent Policy) error {
	if parent == self {
		return errors.New("a policy cannot be its own parent")
	}
	if b.parent != nil {
		return fmt.Errorf("policy %q already has a parent", b.name)
	}
	b.parent = parent
	return nil
}

func (b *base) String() string { return b.name }

// IsAllowedByACL reports whether the node's ACL and every ancestor's
// ACL allow the subject the requested permissions. Each node is
// evaluated independently; a missing ACL contributes allow-all.
func IsAllowedByACL(ctx context.Context, node Policy, subject auth.Subject, mask Permission) (bool, error) {
	principals, err := subject.Principals(ctx)
	if err != nil {
		return false, err
	}
	for n := node; n != nil; n = n.Parent() {
		if !n.ACL().IsAllowed(principals, mask) {
			return false, nil
		}
	}
	return true, nil
}

// EffectiveConstraints returns the node's constraints of a class merged
// with all ancestors'. A child constraint shadows a parent constraint
// with the same name; otherwise the union is returned, child-first.
func EffectiveConstraints(node Policy, class ConstraintClass) []Constraint {
	var (
		effective []Constraint
		seen      = map[string]bool{}
	)
	for n := node; n != nil; n = n.Parent() {
		for _, c := range n.Constraints(class) {
			if seen[c.Name()] {
				continue
			}
			seen[c.Name()] = true
			effective = append(effective, c)
		}
	}
	return effective
}

// Header is the bare (name, description) summary of an environment,
// listable without loading the full policy.
type Header struct {
	Name        string
	Description string
}

// EnvironmentPolicy is the root of a policy tree.
type EnvironmentPolicy struct {
	base
	systems      map[string]*SystemPolicy
	systemsOrder []string
}

// NewEnvironmentPolicy creates an environment root. Environments must
// provide metadata; descendants inherit it.
func NewEnvironmentPolicy(name, description string, acl *ACL, constraints map[ConstraintClass][]Constraint, metadata Metadata) (*EnvironmentPolicy, error) {
	if err := auth.ValidateEnvironmentName(name); err != nil {
		return nil, err
	}
	return &EnvironmentPolicy{
		base:    newBase(strings.ToLower(name), description, acl, constraints, &metadata),
		systems: map[string]*SystemPolicy{},
	}, nil
}

// AddSystem inserts a system under this environment. Sibling names
// must be unique.
func (e *EnvironmentPolicy) AddSystem(system *SystemPolicy) error {
	if _, exists := e.systems[system.Name()]; exists {
		return fmt.Errorf("environment %q already contains a system named %q", e.Name(), system.Name())
	}
	if err := system.setParent(system, e); err != nil {
		return err
	}
	e.systems[system.Name()] = system
	e.systemsOrder = append(e.systemsOrder, system.Name())
	return nil
}

// Systems lists the environment's systems in insertion order.
func (e *EnvironmentPolicy) Systems() []*SystemPolicy {
	systems := make([]*SystemPolicy, 0, len(e.systemsOrder))
	for _, name := range e.systemsOrder {
		systems = append(systems, e.systems[name])
	}
	return systems
}

// System looks up a system by name.
func (e *EnvironmentPolicy) System(name string) (*SystemPolicy, bool) {
	s, ok := e.systems[strings.ToLower(name)]
	return s, ok
}

// Header returns the environment's listing summary.
func (e *EnvironmentPolicy) Header() Header {
	return Header{Name: e.Name(), Description: e.Description()}
}

// SystemPolicy groups related JIT groups and contributes inherited ACLs
// and constraints.
type SystemPolicy struct {
	base
	groups      map[string]*JitGroupPolicy
	groupsOrder []string
}

// NewSystemPolicy creates a system node.
func NewSystemPolicy(name, description string, acl *ACL, constraints map[ConstraintClass][]Constraint) (*SystemPolicy, error) {
	if err := auth.ValidateSystemName(name); err != nil {
		return nil, err
	}
	return &SystemPolicy{
		base:   newBase(strings.ToLower(name), description, acl, constraints, nil),
		groups: map[string]*JitGroupPolicy{},
	}, nil
}

// AddGroup inserts a group under this system. Sibling names must be
// unique.
func (s *SystemPolicy) AddGroup(group *JitGroupPolicy) error {
	if _, exists := s.groups[group.Name()]; exists {
		return fmt.Errorf("system %q already contains a group named %q", s.Name(), group.Name())
	}
	if err := group.setParent(group, s); err != nil {
		return err
	}
	s.groups[group.Name()] = group
	s.groupsOrder = append(s.groupsOrder, group.Name())
	return nil
}

// Groups lists the system's groups in insertion order.
func (s *SystemPolicy) Groups() []*JitGroupPolicy {
	groups := make([]*JitGroupPolicy, 0, len(s.groupsOrder))
	for _, name := range s.groupsOrder {
		groups = append(groups, s.groups[name])
	}
	return groups
}

// Group looks up a group by name.
func (s *SystemPolicy) Group(name string) (*JitGroupPolicy, bool) {
	g, ok := s.groups[strings.ToLower(name)]
	return g, ok
}

// Environment returns the owning environment, or nil if the system has
// not been inserted yet.
func (s *SystemPolicy) Environment() *EnvironmentPolicy {
	env, _ := s.Parent().(*EnvironmentPolicy)
	return env
}

// JitGroupPolicy is the unit a user joins. It carries the privileges
// conferred by membership.
type JitGroupPolicy struct {
	base
	privileges []IamRoleBinding
}

// NewJitGroupPolicy creates a group node.
func NewJitGroupPolicy(name, description string, acl *ACL, constraints map[ConstraintClass][]Constraint, privileges []IamRoleBinding) (*JitGroupPolicy, error) {
	if err := auth.ValidateGroupName(name); err != nil {
		return nil, err
	}
	return &JitGroupPolicy{
		base:       newBase(strings.ToLower(name), description, acl, constraints, nil),
		privileges: privileges,
	}, nil
}

// Privileges returns the IAM role bindings conferred by membership.
func (g *JitGroupPolicy) Privileges() []IamRoleBinding {
	return g.privileges
}

// System returns the owning system, or nil if the group has not been
// inserted yet.
func (g *JitGroupPolicy) System() *SystemPolicy {
	sys, _ := g.Parent().(*SystemPolicy)
	return sys
}

// ID returns the group's position in the tree. The group must be
// linked into a complete tree.
func (g *JitGroupPolicy) ID() auth.JitGroupID {
	sys := g.System()
	if sys == nil || sys.Environment() == nil {
		return auth.JitGroupID{}
	}
	return auth.NewJitGroupID(sys.Environment().Name(), sys.Name(), g.Name())
}
