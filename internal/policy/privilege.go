package policy

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ResourceID identifies a resource-manager resource. The core treats
// it as opaque apart from the type string.
type ResourceID struct {
	// Type classifies the resource, e.g. "project".
	Type string
	// ID is the resource identifier within its type.
	ID string
}

func (r ResourceID) String() string {
	return r.Type + ":" + r.ID
}

// Privilege is something a group membership confers. IamRoleBinding is
// the only variant; new kinds extend the Privileges container and the
// provisioner.
type Privilege interface {
	// Description is an optional human-readable summary.
	Description() string
}

// IamRoleBinding grants an IAM role on a resource to the group that
// backs a JIT group, optionally gated by a condition expression.
// Equality is by all fields.
type IamRoleBinding struct {
	Resource  ResourceID
	Role      string
	Desc      string
	Condition string
}

func (b IamRoleBinding) Description() string { return b.Desc }

// Checksum returns a stable 32-bit checksum over all fields, used for
// idempotent reconciliation. Individual checksums are XOR-combined so
// the order of bindings is insignificant.
func (b IamRoleBinding) Checksum() uint32 {
	sum := xxhash.Sum64String(fmt.Sprintf(
		"%s\x00%s\x00%s\x00%s\x00%s",
		b.Resource.Type, b.Resource.ID, b.Role, b.Desc, b.Condition))
	return uint32(sum>>32) ^ uint32(sum)
}
