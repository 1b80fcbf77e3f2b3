package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/groupgate/groupgate/internal/adapter/outbound/memory"
	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

var member = auth.NewUserID("alice@example.com")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	provisioner     *Provisioner
	directory       *memory.Directory
	resourceManager *memory.ResourceManager
	mapping         *auth.GroupMapping
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mapping, err := auth.NewGroupMapping("example.com")
	if err != nil {
		t.Fatal(err)
	}
	directory := memory.NewDirectory()
	resourceManager := memory.NewResourceManager()
	return &fixture{
		provisioner:     NewProvisioner(mapping, directory, resourceManager, testLogger()),
		directory:       directory,
		resourceManager: resourceManager,
		mapping:         mapping,
	}
}

// buildEnvironment assembles corp > payments with one group per binding
// set given.
func buildEnvironment(t *testing.T, bindingSets map[string][]policy.IamRoleBinding) *policy.EnvironmentPolicy {
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
	if err := env.AddSystem(sys); err != nil {
		t.Fatal(err)
	}
	for name, bindings := range bindingSets {
		group, err := policy.NewJitGroupPolicy(name, "Managed group", nil, nil, bindings)
		if err != nil {
			t.Fatal(err)
		}
		if err := sys.AddGroup(group); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

func soleGroup(t *testing.T, env *policy.EnvironmentPolicy, name string) *policy.JitGroupPolicy {
	t.Helper()
	sys, ok := env.System("payments")
	if !ok {
		t.Fatal("system missing")
	}
	group, ok := sys.Group(name)
	if !ok {
		t.Fatalf("group %s missing", name)
	}
	return group
}

func viewerBinding(resource string) policy.IamRoleBinding {
	return policy.IamRoleBinding{
		Resource: policy.ResourceID{Type: "project", ID: resource},
		Role:     "roles/viewer",
	}
}

func TestProvisionAccessCreatesGroupMembershipAndBindings(t *testing.T) {
	f := newFixture(t)
	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {viewerBinding("payments-prod")},
	})
	group := soleGroup(t, env, "admins")
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	if err := f.provisioner.ProvisionAccess(context.Background(), group, member, expiry); err != nil {
		t.Fatal(err)
	}

	groupID := f.provisioner.GroupID(group)
	if groupID.Email() != "jit.corp.payments.admins@example.com" {
		t.Errorf("backing group = %s", groupID)
	}

	details, err := f.directory.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatal(err)
	}
	wantSum := ChecksumOfBindings(group.Privileges())
	if ChecksumFromTaggedDescription(details.Description) != wantSum {
		t.Errorf("description %q does not carry checksum %s", details.Description, wantSum)
	}

	memberships, err := f.directory.ListMembershipsByUser(context.Background(), member)
	if err != nil {
		t.Fatal(err)
	}
	if len(memberships) != 1 || memberships[0].Group != groupID {
		t.Fatalf("memberships = %+v", memberships)
	}
	full, err := f.directory.GetMembership(context.Background(), memberships[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Roles) != 1 || full.Roles[0].Expiry == nil || !full.Roles[0].Expiry.Equal(expiry) {
		t.Errorf("membership roles = %+v, want expiry %v", full.Roles, expiry)
	}

	iam := f.resourceManager.Policy("project:payments-prod")
	if len(iam.Bindings) != 1 || iam.Bindings[0].Role != "roles/viewer" {
		t.Fatalf("IAM bindings = %+v", iam.Bindings)
	}
	if len(iam.Bindings[0].Members) != 1 || iam.Bindings[0].Members[0] != groupID.String() {
		t.Errorf("IAM members = %v, want %s", iam.Bindings[0].Members, groupID)
	}
}

func TestProvisionAccessSkipsIAMWhenChecksumMatches(t *testing.T) {
	f := newFixture(t)
	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {viewerBinding("payments-prod")},
	})
	group := soleGroup(t, env, "admins")

	writes := 0
	f.resourceManager.BeforeWrite = func(string) { writes++ }

	if err := f.provisioner.ProvisionAccess(context.Background(), group, member, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if writes != 1 {
		t.Fatalf("first provision made %d IAM writes, want 1", writes)
	}

	if err := f.provisioner.ProvisionAccess(context.Background(), group, member, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if writes != 1 {
		t.Errorf("unchanged policy must not rewrite IAM, writes = %d", writes)
	}
}

func TestProvisionAccessRenewsMembership(t *testing.T) {
	f := newFixture(t)
	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{"admins": nil})
	group := soleGroup(t, env, "admins")

	first := time.Now().Add(time.Hour).Truncate(time.Second)
	renewed := first.Add(time.Hour)

	for _, expiry := range []time.Time{first, renewed} {
		if err := f.provisioner.ProvisionAccess(context.Background(), group, member, expiry); err != nil {
			t.Fatal(err)
		}
	}

	memberships, err := f.directory.ListMembershipsByUser(context.Background(), member)
	if err != nil {
		t.Fatal(err)
	}
	if len(memberships) != 1 {
		t.Fatalf("renewal must not duplicate the membership: %+v", memberships)
	}
	full, err := f.directory.GetMembership(context.Background(), memberships[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !full.Roles[0].Expiry.Equal(renewed) {
		t.Errorf("expiry = %v, want renewed %v", full.Roles[0].Expiry, renewed)
	}
}

func TestProvisionAccessReplacesStaleBindings(t *testing.T) {
	f := newFixture(t)

	before := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {viewerBinding("payments-prod")},
	})
	if err := f.provisioner.ProvisionAccess(context.Background(), soleGroup(t, before, "admins"), member, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	after := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {{
			Resource: policy.ResourceID{Type: "project", ID: "payments-prod"},
			Role:     "roles/editor",
		}},
	})
	if err := f.provisioner.ProvisionAccess(context.Background(), soleGroup(t, after, "admins"), member, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	iam := f.resourceManager.Policy("project:payments-prod")
	if len(iam.Bindings) != 1 {
		t.Fatalf("stale binding must be replaced, not accumulated: %+v", iam.Bindings)
	}
	if iam.Bindings[0].Role != "roles/editor" {
		t.Errorf("role = %s, want roles/editor", iam.Bindings[0].Role)
	}
}

func TestProvisionAccessKeepsForeignMembers(t *testing.T) {
	f := newFixture(t)
	f.resourceManager.SetPolicy("project:payments-prod", outbound.IamPolicy{
		Bindings: []outbound.IamBinding{{
			Role:    "roles/owner",
			Members: []string{"user:cto@example.com"},
		}},
	})

	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {viewerBinding("payments-prod")},
	})
	if err := f.provisioner.ProvisionAccess(context.Background(), soleGroup(t, env, "admins"), member, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	iam := f.resourceManager.Policy("project:payments-prod")
	if len(iam.Bindings) != 2 {
		t.Fatalf("bindings of other principals must survive: %+v", iam.Bindings)
	}
}

func TestProvisionAccessReportsConflict(t *testing.T) {
	f := newFixture(t)
	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins": {viewerBinding("payments-prod")},
	})

	// Bump the etag between every read and write so the optimistic
	// update can never land.
	f.resourceManager.BeforeWrite = func(resource string) {
		f.resourceManager.SetPolicy(resource, outbound.IamPolicy{})
	}

	err := f.provisioner.ProvisionAccess(context.Background(), soleGroup(t, env, "admins"), member, time.Now().Add(time.Hour))
	if !errors.Is(err, outbound.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestReconcileEnvironment(t *testing.T) {
	f := newFixture(t)
	env := buildEnvironment(t, map[string][]policy.IamRoleBinding{
		"admins":   {viewerBinding("payments-prod")},
		"auditors": {viewerBinding("payments-audit")},
	})

	// A backing group left over from a deleted policy.
	if _, err := f.directory.CreateGroup(context.Background(),
		auth.NewGroupID("jit.corp.legacy.ops@example.com"),
		outbound.GroupTypeSecurity, "JIT Group corp › legacy › ops", ""); err != nil {
		t.Fatal(err)
	}

	// Updates to the audit project never land, so that group comes out
	// non-compliant.
	f.resourceManager.BeforeWrite = func(resource string) {
		if resource == "project:payments-audit" {
			f.resourceManager.SetPolicy(resource, outbound.IamPolicy{})
		}
	}

	results, err := f.provisioner.ReconcileEnvironment(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}

	states := map[string]ComplianceState{}
	var auditErr error
	for _, r := range results {
		states[r.Group.String()] = r.State
		if r.Group.Name == "auditors" {
			auditErr = r.Err
		}
	}

	if states["corp.payments.admins"] != StateCompliant {
		t.Errorf("admins state = %s", states["corp.payments.admins"])
	}
	if states["corp.payments.auditors"] != StateNonCompliant {
		t.Errorf("auditors state = %s", states["corp.payments.auditors"])
	}
	if !errors.Is(auditErr, outbound.ErrConflict) {
		t.Errorf("auditors err = %v, want ErrConflict", auditErr)
	}
	if states["corp.legacy.ops"] != StateOrphaned {
		t.Errorf("legacy group state = %s, want ORPHANED", states["corp.legacy.ops"])
	}
}
