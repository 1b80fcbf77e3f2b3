package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// Name restrictions for policy tree nodes. Environment names are kept
// short because they are embedded in group email addresses.
var (
	environmentNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,16}$`)
	systemNamePattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	groupNamePattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
)

// ValidateEnvironmentName checks an environment name against the
// allowed alphabet and length.
func ValidateEnvironmentName(name string) error {
	if !environmentNamePattern.MatchString(name) {
		return fmt.Errorf("environment name %q is invalid: must be 1-16 characters of [A-Za-z0-9-]", name)
	}
	return nil
}

// ValidateSystemName checks a system name against the allowed alphabet
// and length.
func ValidateSystemName(name string) error {
	if !systemNamePattern.MatchString(name) {
		return fmt.Errorf("system name %q is invalid: must be 1-32 characters of [A-Za-z0-9_-]", name)
	}
	return nil
}

// ValidateGroupName checks a group name against the allowed alphabet
// and length.
func ValidateGroupName(name string) error {
	if !groupNamePattern.MatchString(name) {
		return fmt.Errorf("group name %q is invalid: must be 1-32 characters of [A-Za-z0-9_-]", name)
	}
	return nil
}

// JitGroupID identifies a JIT group by its position in the policy
// tree. All components are lowercase; construct with NewJitGroupID or
// ParseJitGroupID so equality is case-insensitive.
type JitGroupID struct {
	Environment string
	System      string
	Name        string
}

// NewJitGroupID builds an ID from its components, lowercasing them.
func NewJitGroupID(environment, system, name string) JitGroupID {
	return JitGroupID{
		Environment: strings.ToLower(environment),
		System:      strings.ToLower(system),
		Name:        strings.ToLower(name),
	}
}

// ParseJitGroupID parses the canonical "environment.system.name" form.
func ParseJitGroupID(s string) (JitGroupID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return JitGroupID{}, fmt.Errorf("JIT group ID %q is malformed: expected environment.system.name", s)
	}
	id := NewJitGroupID(parts[0], parts[1], parts[2])
	if err := ValidateEnvironmentName(id.Environment); err != nil {
		return JitGroupID{}, err
	}
	if err := ValidateSystemName(id.System); err != nil {
		return JitGroupID{}, err
	}
	if err := ValidateGroupName(id.Name); err != nil {
		return JitGroupID{}, err
	}
	return id, nil
}

// String returns the canonical "environment.system.name" form.
func (id JitGroupID) String() string {
	return id.Environment + "." + id.System + "." + id.Name
}

// IsZero reports whether the ID is unset.
func (id JitGroupID) IsZero() bool {
	return id == JitGroupID{}
}
