// Package resolver expands an authenticated user into the principal
// set used for policy evaluation, querying the identity-provider
// directory.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// defaultLookupParallelism bounds concurrent membership lookups per
// resolution.
const defaultLookupParallelism = 8

// Resolver expands a user identity into the principal set used for
// policy evaluation. JIT memberships require an extra per-membership
// lookup to learn the expiry, fanned out on a bounded pool.
type Resolver struct {
	directory   outbound.Directory
	mapping     *auth.GroupMapping
	parallelism int
	logger      *slog.Logger
}

// New creates a resolver. parallelism caps concurrent membership
// lookups; values < 1 select the default.
func New(directory outbound.Directory, mapping *auth.GroupMapping, parallelism int, logger *slog.Logger) *Resolver {
	if parallelism < 1 {
		parallelism = defaultLookupParallelism
	}
	return &Resolver{
		directory:   directory,
		mapping:     mapping,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Subject returns a lazily-resolved subject for the user. Resolution
// happens on first principal access and is memoized for the request.
func (r *Resolver) Subject(user auth.UserID) auth.Subject {
	return auth.NewLazySubject(user, r.Resolve)
}

// Resolve builds the principal set for a user:
//
//   - the user itself and the authenticated-users class,
//   - every non-JIT directory group, as-is,
//   - every JIT group membership that carries an expiry.
//
// Individual membership lookups that miss (the membership vanished) or
// fail are logged and dropped; only a failure of the initial listing
// fails the resolution as a whole.
func (r *Resolver) Resolve(ctx context.Context, user auth.UserID) ([]auth.Principal, error) {
	memberships, err := r.directory.ListMembershipsByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("listing memberships for %s: %w", user, err)
	}

	principals := []auth.Principal{
		auth.ClassPrincipal(auth.ClassAuthenticatedUsers),
		auth.UserPrincipal(user),
	}

	var jitMemberships []outbound.Membership
	for _, m := range memberships {
		if r.mapping.IsJitGroup(m.Group) {
			jitMemberships = append(jitMemberships, m)
		} else {
			principals = append(principals, auth.GroupPrincipal(m.Group))
		}
	}

	jitPrincipals := r.resolveJitMemberships(ctx, user, jitMemberships)
	principals = append(principals, jitPrincipals...)

	r.logger.InfoContext(ctx, "subject resolved",
		"event", "subject.resolve",
		"user_id", user.Email(),
		"jit_groups", len(jitPrincipals),
		"other_groups", len(principals)-len(jitPrincipals)-2,
	)

	return principals, nil
}

// resolveJitMemberships looks up expiry details for JIT-prefixed
// memberships with bounded parallelism.
func (r *Resolver) resolveJitMemberships(ctx context.Context, user auth.UserID, memberships []outbound.Membership) []auth.Principal {
	var (
		mu         sync.Mutex
		principals []auth.Principal
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, m := range memberships {
		g.Go(func() error {
			details, err := r.directory.GetMembership(ctx, m.ID)
			switch {
			case errors.Is(err, outbound.ErrResourceNotFound):
				// Membership expired between listing and lookup.
				r.logger.WarnContext(ctx, "membership vanished during resolution",
					"event", "subject.resolve",
					"user_id", user.Email(),
					"group", m.Group.Email(),
				)
				return nil
			case err != nil:
				r.logger.ErrorContext(ctx, "membership lookup failed",
					"event", "subject.resolve",
					"user_id", user.Email(),
					"group", m.Group.Email(),
					"error", err,
				)
				return nil
			}

			expiry, ok := earliestExpiry(details.Roles)
			if !ok {
				// A group that fits the naming scheme but has no
				// expiry is not a JIT membership.
				r.logger.WarnContext(ctx, "group matches JIT naming scheme but lacks an expiry",
					"event", "subject.resolve",
					"user_id", user.Email(),
					"group", m.Group.Email(),
				)
				return nil
			}

			id, err := r.mapping.JitGroupFromGroup(m.Group)
			if err != nil {
				return nil
			}

			mu.Lock()
			principals = append(principals, auth.JitGroupPrincipal(id, expiry))
			mu.Unlock()
			return nil
		})
	}

	// Lookups never return errors; the group only propagates
	// cancellation of the enclosing request.
	_ = g.Wait()

	return principals
}

func earliestExpiry(roles []outbound.MembershipRole) (time.Time, bool) {
	var earliest time.Time
	for _, role := range roles {
		if role.Expiry == nil {
			continue
		}
		if earliest.IsZero() || role.Expiry.Before(earliest) {
			earliest = *role.Expiry
		}
	}
	return earliest, !earliest.IsZero()
}
