// Package auth contains the identity model: principals, subjects,
// JIT group identifiers, and the subject resolver.
package auth

import (
	"fmt"
	"strings"
	"time"
)

// UserID identifies a user by email address. Construct with NewUserID
// so that comparisons are case-insensitive.
type UserID string

// NewUserID canonicalizes an email address to lowercase.
func NewUserID(email string) UserID {
	return UserID(strings.ToLower(strings.TrimSpace(email)))
}

func (u UserID) Email() string  { return string(u) }
func (u UserID) String() string { return "user:" + string(u) }

// GroupID identifies a directory group by email address.
type GroupID string

// NewGroupID canonicalizes a group email address to lowercase.
func NewGroupID(email string) GroupID {
	return GroupID(strings.ToLower(strings.TrimSpace(email)))
}

func (g GroupID) Email() string  { return string(g) }
func (g GroupID) String() string { return "group:" + string(g) }

// ClassID identifies a class of users.
type ClassID string

// ClassAuthenticatedUsers matches any authenticated user.
const ClassAuthenticatedUsers ClassID = "authenticatedUsers"

func (c ClassID) String() string { return "class:" + string(c) }

// PrincipalKind discriminates the Principal variants.
type PrincipalKind int

const (
	// KindUser is a single user, identified by email.
	KindUser PrincipalKind = iota
	// KindGroup is a directory group, identified by email.
	KindGroup
	// KindJitGroup is an active, time-bounded JIT group membership.
	KindJitGroup
	// KindClass is a class of users, such as all authenticated users.
	KindClass
)

// Principal is a tagged variant over the identities a subject can carry.
// Exactly one of the value fields is meaningful, selected by Kind.
// Equality is by (kind, value); the expiry of a JIT group membership is
// not part of its identity.
type Principal struct {
	Kind     PrincipalKind
	User     UserID
	Group    GroupID
	JitGroup JitGroupID
	Class    ClassID

	// Expiry is set for KindJitGroup only and records when the
	// membership lapses.
	Expiry time.Time
}

// UserPrincipal returns a principal for a single user.
func UserPrincipal(user UserID) Principal {
	return Principal{Kind: KindUser, User: user}
}

// GroupPrincipal returns a principal for a directory group.
func GroupPrincipal(group GroupID) Principal {
	return Principal{Kind: KindGroup, Group: group}
}

// JitGroupPrincipal returns a principal for an active JIT group
// membership with the given expiry.
func JitGroupPrincipal(id JitGroupID, expiry time.Time) Principal {
	return Principal{Kind: KindJitGroup, JitGroup: id, Expiry: expiry}
}

// ClassPrincipal returns a principal for a class of users.
func ClassPrincipal(class ClassID) Principal {
	return Principal{Kind: KindClass, Class: class}
}

// Equal reports whether two principals identify the same entity.
func (p Principal) Equal(other Principal) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case KindUser:
		return p.User == other.User
	case KindGroup:
		return p.Group == other.Group
	case KindJitGroup:
		return p.JitGroup == other.JitGroup
	case KindClass:
		return p.Class == other.Class
	default:
		return false
	}
}

// IsValidAt reports whether the principal is in effect at the given
// time. Principals without an expiry are always in effect.
func (p Principal) IsValidAt(now time.Time) bool {
	if p.Kind != KindJitGroup {
		return true
	}
	return p.Expiry.After(now)
}

func (p Principal) String() string {
	switch p.Kind {
	case KindUser:
		return p.User.String()
	case KindGroup:
		return p.Group.String()
	case KindJitGroup:
		return "jitGroup:" + p.JitGroup.String()
	case KindClass:
		return p.Class.String()
	default:
		return fmt.Sprintf("principal(%d)", p.Kind)
	}
}

// ParsePrincipal parses the prefixed string form used in policy
// documents, for example "user:alice@example.com" or
// "class:authenticatedUsers".
func ParsePrincipal(s string) (Principal, error) {
	prefix, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Principal{}, fmt.Errorf("principal %q lacks a type prefix", s)
	}
	switch prefix {
	case "user":
		return UserPrincipal(NewUserID(value)), nil
	case "group":
		return GroupPrincipal(NewGroupID(value)), nil
	case "jitGroup":
		id, err := ParseJitGroupID(value)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Kind: KindJitGroup, JitGroup: id}, nil
	case "class":
		if ClassID(value) != ClassAuthenticatedUsers {
			return Principal{}, fmt.Errorf("unknown principal class %q", value)
		}
		return ClassPrincipal(ClassAuthenticatedUsers), nil
	default:
		return Principal{}, fmt.Errorf("unknown principal type %q", prefix)
	}
}
