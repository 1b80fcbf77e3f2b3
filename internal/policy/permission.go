// Package policy contains the hierarchical policy model: the
// environment/system/group tree, access control lists, constraints,
// privileges, and the policy analysis that combines them.
package policy

import (
	"fmt"
	"strings"
)

// Permission is a bitmask of operations a subject can be granted on a
// policy node.
type Permission uint32

const (
	// PermissionView allows seeing that a node exists and reading its
	// metadata.
	PermissionView Permission = 1 << iota
	// PermissionJoin allows requesting membership in a group.
	PermissionJoin
	// PermissionApproveSelf allows approving one's own join.
	PermissionApproveSelf
	// PermissionApproveOthers allows approving joins deferred by other
	// users. Reserved for the approval-pickup flow.
	PermissionApproveOthers
	// PermissionExport allows exporting the policy document.
	PermissionExport
	// PermissionReconcile allows triggering reconciliation and reading
	// compliance reports.
	PermissionReconcile
)

// PermissionAll grants every permission.
const PermissionAll = PermissionView |
	PermissionJoin |
	PermissionApproveSelf |
	PermissionApproveOthers |
	PermissionExport |
	PermissionReconcile

var permissionNames = []struct {
	mask Permission
	name string
}{
	{PermissionView, "VIEW"},
	{PermissionJoin, "JOIN"},
	{PermissionApproveSelf, "APPROVE_SELF"},
	{PermissionApproveOthers, "APPROVE_OTHERS"},
	{PermissionExport, "EXPORT"},
	{PermissionReconcile, "RECONCILE"},
}

// Contains reports whether p includes every bit of mask.
func (p Permission) Contains(mask Permission) bool {
	return p&mask == mask
}

// Intersects reports whether p shares any bit with mask.
func (p Permission) Intersects(mask Permission) bool {
	return p&mask != 0
}

// String renders the mask as a comma-separated list, e.g.
// "JOIN, APPROVE_SELF".
func (p Permission) String() string {
	if p == PermissionAll {
		return "ALL"
	}
	var parts []string
	for _, entry := range permissionNames {
		if p.Contains(entry.mask) {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ", ")
}

// ParsePermissions parses a comma-separated permission list as used in
// policy documents. "ALL" expands to every permission.
func ParsePermissions(s string) (Permission, error) {
	var mask Permission
	for part := range strings.SplitSeq(s, ",") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == "ALL" {
			mask |= PermissionAll
			continue
		}
		found := false
		for _, entry := range permissionNames {
			if entry.name == name {
				mask |= entry.mask
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("permission list %q is empty", s)
	}
	return mask, nil
}
