// Package outbound defines the contracts for external collaborators:
// the identity provider directory, the resource manager, the token
// signer, and the notifier. Adapters implement these interfaces.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
)

// Sentinel errors shared by collaborator contracts.
var (
	// ErrResourceNotFound indicates a lookup missed: the group or
	// membership does not exist (anymore).
	ErrResourceNotFound = errors.New("resource not found")

	// ErrConflict indicates that optimistic concurrency retries were
	// exhausted. The operation can be retried by the caller.
	ErrConflict = errors.New("concurrent modification, retries exhausted")
)

// GroupType classifies directory groups at creation time.
type GroupType string

// GroupTypeSecurity marks groups that confer privileges.
const GroupTypeSecurity GroupType = "security"

// GroupKey is the directory's opaque handle for a group.
type GroupKey string

// MembershipID is the directory's opaque handle for a membership.
type MembershipID string

// Group is a directory group as returned by the identity provider.
type Group struct {
	Key         GroupKey
	ID          auth.GroupID
	DisplayName string
	Description string
}

// MembershipRole carries the role name and optional expiry of a
// membership. Temporary memberships always carry an expiry.
type MembershipRole struct {
	Name   string
	Expiry *time.Time
}

// Membership is a user's membership in a directory group.
type Membership struct {
	ID    MembershipID
	Group auth.GroupID
	User  auth.UserID
	Roles []MembershipRole
}

// Directory is the identity-provider client contract.
type Directory interface {
	// ListMembershipsByUser returns all direct group memberships of a
	// user. The returned memberships may lack role details.
	ListMembershipsByUser(ctx context.Context, user auth.UserID) ([]Membership, error)

	// GetMembership returns full membership details, including role
	// expiries. Returns ErrResourceNotFound if the membership vanished.
	GetMembership(ctx context.Context, id MembershipID) (Membership, error)

	// CreateGroup creates a group if it does not exist and returns its
	// key. Creating an existing group is not an error.
	CreateGroup(ctx context.Context, id auth.GroupID, typ GroupType, displayName, description string) (GroupKey, error)

	// AddMembership adds or renews a temporary membership with the
	// given expiry.
	AddMembership(ctx context.Context, key GroupKey, user auth.UserID, expiry time.Time) error

	// GetGroup returns group details. Returns ErrResourceNotFound if
	// the group does not exist.
	GetGroup(ctx context.Context, id auth.GroupID) (Group, error)

	// PatchGroup updates a group's description.
	PatchGroup(ctx context.Context, key GroupKey, description string) error

	// SearchGroupsByPrefix lists groups whose email local part starts
	// with the given prefix.
	SearchGroupsByPrefix(ctx context.Context, prefix string) ([]Group, error)
}
