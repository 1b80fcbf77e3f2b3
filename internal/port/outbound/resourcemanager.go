package outbound

import "context"

// IamCondition restricts when an IAM binding applies.
type IamCondition struct {
	Title      string
	Expression string
}

// IamBinding grants a role to a set of members, optionally gated by a
// condition. Members use the prefixed form "group:email".
type IamBinding struct {
	Role      string
	Members   []string
	Condition *IamCondition
}

// IamPolicy is a resource's IAM policy as read from the resource
// manager. Etag implements optimistic concurrency.
type IamPolicy struct {
	Bindings []IamBinding
	Etag     string
}

// ResourceManager is the resource-manager client contract. The
// implementation performs read-modify-write with optimistic
// concurrency and retries conflicts a bounded number of times before
// returning ErrConflict.
type ResourceManager interface {
	// ModifyIamPolicy atomically mutates the IAM policy of a resource.
	// The mutator is applied to a fresh read of the policy; it may run
	// more than once when a write conflicts.
	ModifyIamPolicy(ctx context.Context, resource string, mutate func(*IamPolicy) error, rationale string) error
}
