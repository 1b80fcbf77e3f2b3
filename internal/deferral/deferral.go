// Package deferral transports a pending join operation across users as
// a signed token. The requester defers the operation to a set of
// assignees; an assignee later picks the token up to review the
// request with the original inputs intact.
package deferral

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/catalog"
	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Claim names of the token payload.
const (
	claimAudience = "aud"
	claimGroup    = "grp"
	claimUser     = "usr"
	claimInput    = "inp"
)

// Deferral is the decoded view of a picked-up token.
type Deferral struct {
	// Deferrer is the user who requested to join.
	Deferrer auth.UserID

	// Assignees are the users the approval was handed to, sorted.
	Assignees []auth.UserID

	// Group is the target group.
	Group auth.JitGroupID

	// Input holds the serialized input properties the deferrer bound.
	Input map[string]string
}

// VerifyAssignee checks that a user is among the deferral's assignees.
// The deferrer themselves can never act as an assignee.
func (d *Deferral) VerifyAssignee(user auth.UserID) error {
	if user == d.Deferrer {
		return &policy.AccessDeniedError{Reason: "a join request cannot be approved by its requester"}
	}
	if !slices.Contains(d.Assignees, user) {
		return &policy.AccessDeniedError{Reason: "the join request was not assigned to this user"}
	}
	return nil
}

// ApplyInput binds the deferral's serialized inputs onto a fresh join
// operation so an assignee reviews exactly what the deferrer entered.
func (d *Deferral) ApplyInput(op *catalog.JoinOperation) error {
	for _, property := range op.Input() {
		raw, ok := d.Input[property.Name()]
		if !ok {
			continue
		}
		if err := op.SetInput(property.Name(), raw); err != nil {
			return err
		}
	}
	return nil
}

// Deferrer signs and verifies deferral tokens.
type Deferrer struct {
	signer   outbound.TokenSigner
	notifier outbound.Notifier
	logger   *slog.Logger
}

// NewDeferrer builds a deferrer. The notifier may be nil, in which
// case assignees are not notified.
func NewDeferrer(signer outbound.TokenSigner, notifier outbound.Notifier, logger *slog.Logger) *Deferrer {
	return &Deferrer{signer: signer, notifier: notifier, logger: logger}
}

// Defer verifies the operation and hands it to the assignees as a
// signed token. The operation must require approval and all its join
// constraints must be satisfied with the currently bound inputs.
func (d *Deferrer) Defer(ctx context.Context, op *catalog.JoinOperation, assignees []auth.UserID) (outbound.SignedToken, error) {
	// The access decision comes first: a user who may not join at all
	// gets the same denial whether or not the request is well-formed.
	if err := op.VerifyForDelegation(ctx); err != nil {
		return outbound.SignedToken{}, err
	}
	if len(assignees) == 0 {
		return outbound.SignedToken{}, &policy.InvalidInputError{
			Property: "assignees",
			Reason:   "at least one assignee is required",
		}
	}

	audience := make([]string, 0, len(assignees))
	for _, assignee := range assignees {
		audience = append(audience, string(assignee))
	}
	slices.Sort(audience)
	audience = slices.Compact(audience)

	input := map[string]string{}
	for _, property := range op.Input() {
		if raw := property.Get(); raw != nil {
			input[property.Name()] = *raw
		}
	}

	token, err := d.signer.Sign(ctx, map[string]any{
		claimAudience: audience,
		claimGroup:    op.Group().String(),
		claimUser:     string(op.User()),
		claimInput:    input,
	})
	if err != nil {
		return outbound.SignedToken{}, fmt.Errorf("sign deferral: %w", err)
	}

	d.logger.Info("join deferred",
		slog.String("event", "join.defer"),
		slog.String("group", op.Group().String()),
		slog.String("user", string(op.User())),
		slog.String("assignees", strings.Join(audience, ",")))

	d.notify(ctx, op, assignees, token)
	return token, nil
}

// Pickup verifies a token and decodes the deferral. Any signature or
// payload failure reports outbound.ErrTokenVerification; it is never
// an authorization error.
func (d *Deferrer) Pickup(ctx context.Context, token string) (*Deferral, error) {
	claims, err := d.signer.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := claimString(claims, claimUser)
	if err != nil {
		return nil, err
	}
	group, err := claimString(claims, claimGroup)
	if err != nil {
		return nil, err
	}
	groupID, err := auth.ParseJitGroupID(group)
	if err != nil {
		return nil, fmt.Errorf("claim %q: %s: %w", claimGroup, err, outbound.ErrTokenVerification)
	}

	rawAudience, ok := claims[claimAudience].([]any)
	if !ok {
		return nil, fmt.Errorf("claim %q missing or malformed: %w", claimAudience, outbound.ErrTokenVerification)
	}
	assignees := make([]auth.UserID, 0, len(rawAudience))
	for _, entry := range rawAudience {
		email, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("claim %q malformed: %w", claimAudience, outbound.ErrTokenVerification)
		}
		assignees = append(assignees, auth.NewUserID(email))
	}

	input := map[string]string{}
	if rawInput, ok := claims[claimInput]; ok {
		entries, ok := rawInput.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("claim %q malformed: %w", claimInput, outbound.ErrTokenVerification)
		}
		for name, value := range entries {
			text, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("claim %q malformed: %w", claimInput, outbound.ErrTokenVerification)
			}
			input[name] = text
		}
	}

	return &Deferral{
		Deferrer:  auth.NewUserID(user),
		Assignees: assignees,
		Group:     groupID,
		Input:     input,
	}, nil
}

func (d *Deferrer) notify(ctx context.Context, op *catalog.JoinOperation, assignees []auth.UserID, token outbound.SignedToken) {
	if d.notifier == nil {
		return
	}
	msg := outbound.Message{
		To:      assignees,
		Cc:      []auth.UserID{op.User()},
		Subject: fmt.Sprintf("%s requests to join %s", op.User(), op.Group()),
		Body: fmt.Sprintf(
			"%s requests to join the group %s and the request needs your approval.\n\n"+
				"The request is valid until %s.",
			op.User(), op.Group(), token.Expiry.Format("2006-01-02 15:04:05 MST")),
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		// Delivery is best effort; the token was already issued.
		d.logger.Warn("deferral notification failed",
			slog.String("event", "join.defer"),
			slog.String("group", op.Group().String()),
			slog.String("error", err.Error()))
	}
}

func claimString(claims map[string]any, name string) (string, error) {
	value, ok := claims[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("claim %q missing or malformed: %w", name, outbound.ErrTokenVerification)
	}
	return value, nil
}
