package policy

import "testing"

func TestIamRoleBindingChecksum(t *testing.T) {
	binding := IamRoleBinding{
		Resource: ResourceID{Type: "project", ID: "payments-prod"},
		Role:     "roles/viewer",
		Desc:     "View dashboards",
	}

	if binding.Checksum() != binding.Checksum() {
		t.Error("checksum must be deterministic")
	}

	variants := []IamRoleBinding{
		{Resource: ResourceID{Type: "project", ID: "payments-dev"}, Role: "roles/viewer", Desc: "View dashboards"},
		{Resource: ResourceID{Type: "folder", ID: "payments-prod"}, Role: "roles/viewer", Desc: "View dashboards"},
		{Resource: ResourceID{Type: "project", ID: "payments-prod"}, Role: "roles/editor", Desc: "View dashboards"},
		{Resource: ResourceID{Type: "project", ID: "payments-prod"}, Role: "roles/viewer", Desc: "Other"},
		{Resource: ResourceID{Type: "project", ID: "payments-prod"}, Role: "roles/viewer", Desc: "View dashboards", Condition: "true"},
	}
	for _, other := range variants {
		if other.Checksum() == binding.Checksum() {
			t.Errorf("checksum collision for %+v", other)
		}
	}
}

func TestResourceIDString(t *testing.T) {
	id := ResourceID{Type: "project", ID: "payments-prod"}
	if id.String() != "project:payments-prod" {
		t.Errorf("String() = %q", id.String())
	}
}
