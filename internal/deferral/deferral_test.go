package deferral

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/groupgate/groupgate/internal/adapter/outbound/memory"
	"github.com/groupgate/groupgate/internal/adapter/outbound/token"
	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/catalog"
	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
	"github.com/groupgate/groupgate/internal/provision"
)

var (
	alice = auth.NewUserID("alice@example.com")
	bob   = auth.NewUserID("bob@example.com")
	carol = auth.NewUserID("carol@example.com")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *token.Signer {
	t.Helper()
	signer, err := token.NewSigner([]byte("test-key"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// fakeNotifier records the last message and can be told to fail.
type fakeNotifier struct {
	last *outbound.Message
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg outbound.Message) error {
	n.last = &msg
	return n.err
}

// newJoinSource builds corp > payments > admins where everybody may
// VIEW, and alice may JOIN but not approve herself, with a ranged
// expiry constraint.
func newJoinSource(t *testing.T) catalog.Source {
	t.Helper()
	env, err := policy.NewEnvironmentPolicy("corp", "", nil, nil,
		policy.Metadata{Source: "test", LastModified: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	sys, err := policy.NewSystemPolicy("payments", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	expiry, err := policy.NewExpiryConstraint(30*time.Minute, 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	group, err := policy.NewJitGroupPolicy("admins", "",
		policy.NewACL(
			policy.Allow(auth.ClassPrincipal(auth.ClassAuthenticatedUsers), policy.PermissionView),
			policy.Allow(auth.UserPrincipal(alice), policy.PermissionJoin)),
		map[policy.ConstraintClass][]policy.Constraint{
			policy.ConstraintClassJoin: {expiry},
		}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.AddSystem(sys); err != nil {
		t.Fatal(err)
	}
	if err := sys.AddGroup(group); err != nil {
		t.Fatal(err)
	}

	mapping, err := auth.NewGroupMapping("example.com")
	if err != nil {
		t.Fatal(err)
	}
	provisioner := provision.NewProvisioner(mapping, memory.NewDirectory(), memory.NewResourceManager(), testLogger())
	return &staticSource{env: &catalog.Environment{Policy: env, Provisioner: provisioner}}
}

type staticSource struct {
	env *catalog.Environment
}

func (s *staticSource) Environments() []policy.Header {
	return []policy.Header{{Name: s.env.Policy.Name()}}
}

func (s *staticSource) Lookup(_ context.Context, name string) (*catalog.Environment, bool) {
	if name != s.env.Policy.Name() {
		return nil, false
	}
	return s.env, true
}

func newJoinOperation(t *testing.T, source catalog.Source, user auth.UserID) *catalog.JoinOperation {
	t.Helper()
	c := catalog.NewCatalog(source, auth.NewStaticSubject(user))
	view, ok, err := c.Group(context.Background(), auth.NewJitGroupID("corp", "payments", "admins"))
	if err != nil || !ok {
		t.Fatalf("Group = %v, %v", ok, err)
	}
	op, err := view.Join(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !op.RequiresApproval() {
		t.Fatal("operation must require approval")
	}
	return op
}

func TestDeferPickupRoundTrip(t *testing.T) {
	source := newJoinSource(t)
	deferrer := NewDeferrer(testSigner(t), nil, testLogger())

	op := newJoinOperation(t, source, alice)
	if err := op.SetInput(policy.ExpiryInputName, "3600"); err != nil {
		t.Fatal(err)
	}

	// Duplicate and unsorted assignees are normalized in the token.
	signed, err := deferrer.Defer(context.Background(), op, []auth.UserID{carol, bob, carol})
	if err != nil {
		t.Fatal(err)
	}
	if signed.Token == "" || signed.Expiry.IsZero() {
		t.Fatalf("signed = %+v", signed)
	}

	deferral, err := deferrer.Pickup(context.Background(), signed.Token)
	if err != nil {
		t.Fatal(err)
	}
	if deferral.Deferrer != alice {
		t.Errorf("Deferrer = %v", deferral.Deferrer)
	}
	if deferral.Group != auth.NewJitGroupID("corp", "payments", "admins") {
		t.Errorf("Group = %v", deferral.Group)
	}
	want := []auth.UserID{bob, carol}
	if len(deferral.Assignees) != len(want) {
		t.Fatalf("Assignees = %v, want %v", deferral.Assignees, want)
	}
	for i, assignee := range want {
		if deferral.Assignees[i] != assignee {
			t.Errorf("Assignees[%d] = %v, want %v", i, deferral.Assignees[i], assignee)
		}
	}
	if deferral.Input[policy.ExpiryInputName] != "3600" {
		t.Errorf("Input = %v", deferral.Input)
	}

	// The original inputs re-bind onto a fresh operation.
	fresh := newJoinOperation(t, source, deferral.Deferrer)
	if err := deferral.ApplyInput(fresh); err != nil {
		t.Fatal(err)
	}
	result, err := fresh.DryRun(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsAccessAllowed(policy.AccessDefault) {
		t.Error("re-bound inputs must satisfy the constraints again")
	}
}

func TestDeferRequiresAssignees(t *testing.T) {
	source := newJoinSource(t)
	deferrer := NewDeferrer(testSigner(t), nil, testLogger())
	op := newJoinOperation(t, source, alice)
	if err := op.SetInput(policy.ExpiryInputName, "3600"); err != nil {
		t.Fatal(err)
	}

	var invalid *policy.InvalidInputError
	if _, err := deferrer.Defer(context.Background(), op, nil); !errors.As(err, &invalid) {
		t.Fatalf("Defer = %v, want InvalidInputError", err)
	}
	if invalid.Property != "assignees" {
		t.Errorf("Property = %q", invalid.Property)
	}
}

func TestDeferDeniedWithoutJoinPermission(t *testing.T) {
	source := newJoinSource(t)
	deferrer := NewDeferrer(testSigner(t), nil, testLogger())

	// carol can see the group but holds no JOIN permission. The denial
	// must win over any complaint about the malformed request.
	op := newJoinOperation(t, source, carol)

	var denied *policy.AccessDeniedError
	if _, err := deferrer.Defer(context.Background(), op, nil); !errors.As(err, &denied) {
		t.Errorf("Defer = %v, want AccessDeniedError before input validation", err)
	}
	if _, err := deferrer.Defer(context.Background(), op, []auth.UserID{bob}); !errors.As(err, &denied) {
		t.Errorf("Defer with assignees = %v, want AccessDeniedError", err)
	}
}

func TestDeferRequiresSatisfiedConstraints(t *testing.T) {
	source := newJoinSource(t)
	deferrer := NewDeferrer(testSigner(t), nil, testLogger())
	op := newJoinOperation(t, source, alice)

	// The expiry input was never bound.
	var unsatisfied *policy.ConstraintUnsatisfiedError
	if _, err := deferrer.Defer(context.Background(), op, []auth.UserID{bob}); !errors.As(err, &unsatisfied) {
		t.Errorf("Defer = %v, want ConstraintUnsatisfiedError for the unbound expiry", err)
	}
}

func TestDeferNotifiesAssignees(t *testing.T) {
	source := newJoinSource(t)
	notifier := &fakeNotifier{}
	deferrer := NewDeferrer(testSigner(t), notifier, testLogger())

	op := newJoinOperation(t, source, alice)
	if err := op.SetInput(policy.ExpiryInputName, "3600"); err != nil {
		t.Fatal(err)
	}
	if _, err := deferrer.Defer(context.Background(), op, []auth.UserID{bob}); err != nil {
		t.Fatal(err)
	}

	if notifier.last == nil {
		t.Fatal("assignees must be notified")
	}
	if len(notifier.last.To) != 1 || notifier.last.To[0] != bob {
		t.Errorf("To = %v", notifier.last.To)
	}
	if len(notifier.last.Cc) != 1 || notifier.last.Cc[0] != alice {
		t.Errorf("Cc = %v", notifier.last.Cc)
	}
}

func TestDeferSucceedsWhenNotificationFails(t *testing.T) {
	source := newJoinSource(t)
	notifier := &fakeNotifier{err: errors.New("smtp unreachable")}
	deferrer := NewDeferrer(testSigner(t), notifier, testLogger())

	op := newJoinOperation(t, source, alice)
	if err := op.SetInput(policy.ExpiryInputName, "3600"); err != nil {
		t.Fatal(err)
	}
	if _, err := deferrer.Defer(context.Background(), op, []auth.UserID{bob}); err != nil {
		t.Errorf("notification failure must not fail the deferral: %v", err)
	}
}

func TestVerifyAssignee(t *testing.T) {
	deferral := &Deferral{
		Deferrer:  alice,
		Assignees: []auth.UserID{bob},
	}

	if err := deferral.VerifyAssignee(bob); err != nil {
		t.Errorf("VerifyAssignee(bob): %v", err)
	}

	var denied *policy.AccessDeniedError
	if err := deferral.VerifyAssignee(alice); !errors.As(err, &denied) {
		t.Errorf("self-approval = %v, want AccessDeniedError", err)
	}
	if err := deferral.VerifyAssignee(carol); !errors.As(err, &denied) {
		t.Errorf("non-assignee = %v, want AccessDeniedError", err)
	}
}

func TestPickupRejectsTamperedToken(t *testing.T) {
	source := newJoinSource(t)
	deferrer := NewDeferrer(testSigner(t), nil, testLogger())

	op := newJoinOperation(t, source, alice)
	if err := op.SetInput(policy.ExpiryInputName, "3600"); err != nil {
		t.Fatal(err)
	}
	signed, err := deferrer.Defer(context.Background(), op, []auth.UserID{bob})
	if err != nil {
		t.Fatal(err)
	}

	tampered := signed.Token[:len(signed.Token)-2] + "xx"
	if _, err := deferrer.Pickup(context.Background(), tampered); !errors.Is(err, outbound.ErrTokenVerification) {
		t.Errorf("Pickup = %v, want ErrTokenVerification", err)
	}
}

func TestPickupRejectsMalformedClaims(t *testing.T) {
	signer := testSigner(t)
	deferrer := NewDeferrer(signer, nil, testLogger())

	tests := []struct {
		name   string
		claims map[string]any
	}{
		{name: "missing user", claims: map[string]any{
			"grp": "corp.payments.admins", "aud": []string{"bob@example.com"},
		}},
		{name: "missing group", claims: map[string]any{
			"usr": "alice@example.com", "aud": []string{"bob@example.com"},
		}},
		{name: "malformed group", claims: map[string]any{
			"usr": "alice@example.com", "grp": "not-a-group", "aud": []string{"bob@example.com"},
		}},
		{name: "missing audience", claims: map[string]any{
			"usr": "alice@example.com", "grp": "corp.payments.admins",
		}},
		{name: "malformed input", claims: map[string]any{
			"usr": "alice@example.com", "grp": "corp.payments.admins",
			"aud": []string{"bob@example.com"}, "inp": "sixty",
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			signed, err := signer.Sign(context.Background(), tc.claims)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := deferrer.Pickup(context.Background(), signed.Token); !errors.Is(err, outbound.ErrTokenVerification) {
				t.Errorf("Pickup = %v, want ErrTokenVerification", err)
			}
		})
	}
}
