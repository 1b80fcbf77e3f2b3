package policy

import (
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
)

// Effect is the disposition of an access control entry.
type Effect int

const (
	// EffectAllow grants the entry's permissions.
	EffectAllow Effect = iota
	// EffectDeny revokes the entry's permissions.
	EffectDeny
)

// ACE is a single access control entry. It matches a subject when any
// of the subject's principals equals the entry principal.
type ACE struct {
	Principal auth.Principal
	Mask      Permission
	Effect    Effect
}

// Allow builds an allow entry.
func Allow(principal auth.Principal, mask Permission) ACE {
	return ACE{Principal: principal, Mask: mask, Effect: EffectAllow}
}

// Deny builds a deny entry.
func Deny(principal auth.Principal, mask Permission) ACE {
	return ACE{Principal: principal, Mask: mask, Effect: EffectDeny}
}

// ACL is an ordered list of access control entries.
//
// A nil *ACL grants access to everybody; an ACL with no entries grants
// access to nobody.
type ACL struct {
	Entries []ACE
}

// NewACL builds an ACL from entries, preserving order.
func NewACL(entries ...ACE) *ACL {
	return &ACL{Entries: entries}
}

// IsAllowed evaluates the ACL for a principal set requesting the given
// permission mask. Entries are evaluated in declared order: any
// matching deny whose mask intersects the request denies outright;
// otherwise the union of matching allow masks must cover the request.
func (a *ACL) IsAllowed(principals []auth.Principal, mask Permission) bool {
	if a == nil {
		return true
	}

	var granted Permission
	for _, entry := range a.Entries {
		if !matchesAny(principals, entry.Principal) {
			continue
		}
		switch entry.Effect {
		case EffectDeny:
			if entry.Mask.Intersects(mask) {
				return false
			}
		case EffectAllow:
			granted |= entry.Mask
		}
	}

	return granted.Contains(mask)
}

func matchesAny(principals []auth.Principal, p auth.Principal) bool {
	for _, candidate := range principals {
		if candidate.Equal(p) {
			return true
		}
	}
	return false
}

func (a *ACL) String() string {
	if a == nil {
		return "(unrestricted)"
	}
	var parts []string
	for _, e := range a.Entries {
		effect := "allow"
		if e.Effect == EffectDeny {
			effect = "deny"
		}
		parts = append(parts, effect+" "+e.Principal.String()+" ["+e.Mask.String()+"]")
	}
	return strings.Join(parts, "; ")
}
