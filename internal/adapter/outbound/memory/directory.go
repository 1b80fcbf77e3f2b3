// Package memory provides in-memory implementations of the outbound
// contracts. They back the test suites and the dev-mode server; state
// does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

const memberRole = "MEMBER"

type groupRecord struct {
	key         outbound.GroupKey
	id          auth.GroupID
	displayName string
	description string

	// members maps user to membership expiry.
	members map[auth.UserID]time.Time
}

// Directory is an in-memory identity-provider directory.
type Directory struct {
	mu      sync.Mutex
	groups  map[auth.GroupID]*groupRecord
	byKey   map[outbound.GroupKey]*groupRecord
	nextKey int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		groups: map[auth.GroupID]*groupRecord{},
		byKey:  map[outbound.GroupKey]*groupRecord{},
	}
}

var _ outbound.Directory = (*Directory)(nil)

// ListMembershipsByUser implements outbound.Directory.
func (d *Directory) ListMembershipsByUser(_ context.Context, user auth.UserID) ([]outbound.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var memberships []outbound.Membership
	for _, group := range d.groups {
		if _, ok := group.members[user]; !ok {
			continue
		}
		// Role details are withheld here, like directory APIs that
		// require a follow-up read for expiries.
		memberships = append(memberships, outbound.Membership{
			ID:    membershipID(group.key, user),
			Group: group.id,
			User:  user,
		})
	}
	return memberships, nil
}

// GetMembership implements outbound.Directory.
func (d *Directory) GetMembership(_ context.Context, id outbound.MembershipID) (outbound.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, user, err := splitMembershipID(id)
	if err != nil {
		return outbound.Membership{}, err
	}
	group, ok := d.byKey[key]
	if !ok {
		return outbound.Membership{}, outbound.ErrResourceNotFound
	}
	expiry, ok := group.members[user]
	if !ok {
		return outbound.Membership{}, outbound.ErrResourceNotFound
	}
	return outbound.Membership{
		ID:    id,
		Group: group.id,
		User:  user,
		Roles: []outbound.MembershipRole{{Name: memberRole, Expiry: &expiry}},
	}, nil
}

// CreateGroup implements outbound.Directory.
func (d *Directory) CreateGroup(_ context.Context, id auth.GroupID, _ outbound.GroupType, displayName, description string) (outbound.GroupKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.groups[id]; ok {
		return existing.key, nil
	}
	d.nextKey++
	group := &groupRecord{
		key:         outbound.GroupKey(fmt.Sprintf("groups/%04d", d.nextKey)),
		id:          id,
		displayName: displayName,
		description: description,
		members:     map[auth.UserID]time.Time{},
	}
	d.groups[id] = group
	d.byKey[group.key] = group
	return group.key, nil
}

// AddMembership implements outbound.Directory. Re-adding a member
// replaces the expiry.
func (d *Directory) AddMembership(_ context.Context, key outbound.GroupKey, user auth.UserID, expiry time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.byKey[key]
	if !ok {
		return outbound.ErrResourceNotFound
	}
	group.members[user] = expiry
	return nil
}

// GetGroup implements outbound.Directory.
func (d *Directory) GetGroup(_ context.Context, id auth.GroupID) (outbound.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[id]
	if !ok {
		return outbound.Group{}, outbound.ErrResourceNotFound
	}
	return outbound.Group{
		Key:         group.key,
		ID:          group.id,
		DisplayName: group.displayName,
		Description: group.description,
	}, nil
}

// PatchGroup implements outbound.Directory.
func (d *Directory) PatchGroup(_ context.Context, key outbound.GroupKey, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.byKey[key]
	if !ok {
		return outbound.ErrResourceNotFound
	}
	group.description = description
	return nil
}

// SearchGroupsByPrefix implements outbound.Directory.
func (d *Directory) SearchGroupsByPrefix(_ context.Context, prefix string) ([]outbound.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matches []outbound.Group
	for _, group := range d.groups {
		local, _, ok := strings.Cut(string(group.id), "@")
		if !ok || !strings.HasPrefix(local, prefix) {
			continue
		}
		matches = append(matches, outbound.Group{
			Key:         group.key,
			ID:          group.id,
			DisplayName: group.displayName,
			Description: group.description,
		})
	}
	return matches, nil
}

func membershipID(key outbound.GroupKey, user auth.UserID) outbound.MembershipID {
	return outbound.MembershipID(fmt.Sprintf("%s/memberships/%s", key, user))
}

func splitMembershipID(id outbound.MembershipID) (outbound.GroupKey, auth.UserID, error) {
	key, user, ok := strings.Cut(string(id), "/memberships/")
	if !ok {
		return "", "", outbound.ErrResourceNotFound
	}
	return outbound.GroupKey(key), auth.UserID(user), nil
}
