package auth

import (
	"fmt"
	"strings"
)

// groupPrefix marks directory groups that back a JIT group.
const groupPrefix = "jit"

// GroupMapping maps JIT group IDs to the email addresses of the
// directory groups that back them, and back. The scheme is
// deterministic: jit.<environment>.<system>.<name>@<domain>.
type GroupMapping struct {
	domain string
}

// NewGroupMapping creates a mapping for the given email domain.
func NewGroupMapping(domain string) (*GroupMapping, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || strings.Contains(domain, "@") {
		return nil, fmt.Errorf("group domain %q is invalid", domain)
	}
	return &GroupMapping{domain: domain}, nil
}

// Domain returns the email domain used for backing groups.
func (m *GroupMapping) Domain() string { return m.domain }

// GroupFromJitGroup returns the directory group that backs a JIT group.
func (m *GroupMapping) GroupFromJitGroup(id JitGroupID) GroupID {
	return NewGroupID(fmt.Sprintf(
		"%s.%s.%s.%s@%s",
		groupPrefix, id.Environment, id.System, id.Name, m.domain))
}

// IsJitGroup reports whether a directory group follows the backing
// group naming scheme of this mapping.
func (m *GroupMapping) IsJitGroup(group GroupID) bool {
	_, err := m.JitGroupFromGroup(group)
	return err == nil
}

// JitGroupFromGroup reverses GroupFromJitGroup.
func (m *GroupMapping) JitGroupFromGroup(group GroupID) (JitGroupID, error) {
	local, domain, ok := strings.Cut(group.Email(), "@")
	if !ok || domain != m.domain {
		return JitGroupID{}, fmt.Errorf("group %q does not belong to domain %q", group, m.domain)
	}
	parts := strings.Split(local, ".")
	if len(parts) != 4 || parts[0] != groupPrefix {
		return JitGroupID{}, fmt.Errorf("group %q does not follow the JIT group naming scheme", group)
	}
	return ParseJitGroupID(strings.Join(parts[1:], "."))
}

// EnvironmentPrefix returns the email prefix shared by all backing
// groups of an environment, used to enumerate provisioned groups.
func (m *GroupMapping) EnvironmentPrefix(environment string) string {
	return fmt.Sprintf("%s.%s.", groupPrefix, strings.ToLower(environment))
}
