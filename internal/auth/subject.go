package auth

import (
	"context"
	"sync"
	"time"
)

// Subject is an authenticated user together with all principals they
// carry into policy evaluation. Principal resolution may perform
// directory I/O; implementations resolve lazily and memoize.
//
// Invariant: the user principal itself is always part of Principals.
type Subject interface {
	// User is the authenticated user.
	User() UserID

	// Principals returns the full principal set of the subject.
	Principals(ctx context.Context) ([]Principal, error)
}

// StaticSubject is a subject with a fixed principal set, used when the
// principals are known up front (and in tests).
type StaticSubject struct {
	user       UserID
	principals []Principal
}

// NewStaticSubject builds a subject from a fixed principal set. The
// user principal and the authenticated-users class are added if
// missing.
func NewStaticSubject(user UserID, principals ...Principal) *StaticSubject {
	all := ensureBasePrincipals(user, principals)
	return &StaticSubject{user: user, principals: all}
}

func (s *StaticSubject) User() UserID { return s.user }

func (s *StaticSubject) Principals(_ context.Context) ([]Principal, error) {
	return s.principals, nil
}

// lazySubject memoizes the first successful resolution. Resolution is
// guarded by a mutex so concurrent callers within a request coalesce;
// the mutex may be held across directory I/O.
type lazySubject struct {
	user    UserID
	resolve func(ctx context.Context, user UserID) ([]Principal, error)

	mu         sync.Mutex
	resolved   bool
	principals []Principal
}

// NewLazySubject returns a subject whose principals are resolved on
// first use and cached for the subject's lifetime (one request).
func NewLazySubject(user UserID, resolve func(ctx context.Context, user UserID) ([]Principal, error)) Subject {
	return &lazySubject{user: user, resolve: resolve}
}

func (s *lazySubject) User() UserID { return s.user }

func (s *lazySubject) Principals(ctx context.Context) ([]Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.principals, nil
	}

	principals, err := s.resolve(ctx, s.user)
	if err != nil {
		// Not cached: a later call may succeed.
		return nil, err
	}

	s.principals = ensureBasePrincipals(s.user, principals)
	s.resolved = true
	return s.principals, nil
}

func ensureBasePrincipals(user UserID, principals []Principal) []Principal {
	all := make([]Principal, 0, len(principals)+2)
	all = append(all, principals...)
	if !containsPrincipal(all, UserPrincipal(user)) {
		all = append(all, UserPrincipal(user))
	}
	if !containsPrincipal(all, ClassPrincipal(ClassAuthenticatedUsers)) {
		all = append(all, ClassPrincipal(ClassAuthenticatedUsers))
	}
	return all
}

func containsPrincipal(set []Principal, p Principal) bool {
	for _, existing := range set {
		if existing.Equal(p) {
			return true
		}
	}
	return false
}

// ActiveMembership returns the subject's active JIT membership of the
// given group, if any.
func ActiveMembership(ctx context.Context, subject Subject, id JitGroupID, now time.Time) (Principal, bool, error) {
	principals, err := subject.Principals(ctx)
	if err != nil {
		return Principal{}, false, err
	}
	for _, p := range principals {
		if p.Kind == KindJitGroup && p.JitGroup == id && p.IsValidAt(now) {
			return p, true, nil
		}
	}
	return Principal{}, false, nil
}
