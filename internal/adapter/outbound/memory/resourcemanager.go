package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/groupgate/groupgate/internal/port/outbound"
)

// maxModifyAttempts bounds optimistic-concurrency retries.
const maxModifyAttempts = 4

// ResourceManager is an in-memory resource-manager with etag-based
// optimistic concurrency.
type ResourceManager struct {
	mu       sync.Mutex
	policies map[string]outbound.IamPolicy
	revision int

	// BeforeWrite, if set, runs between the read and the conditional
	// write of every attempt. Tests use it to provoke conflicts.
	BeforeWrite func(resource string)
}

// NewResourceManager returns a resource manager with no policies; a
// missing policy reads as empty.
func NewResourceManager() *ResourceManager {
	return &ResourceManager{policies: map[string]outbound.IamPolicy{}}
}

var _ outbound.ResourceManager = (*ResourceManager)(nil)

// ModifyIamPolicy implements outbound.ResourceManager.
func (m *ResourceManager) ModifyIamPolicy(ctx context.Context, resource string, mutate func(*outbound.IamPolicy) error, _ string) error {
	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		policy := m.read(resource)
		readEtag := policy.Etag
		if err := mutate(&policy); err != nil {
			return err
		}

		if m.BeforeWrite != nil {
			m.BeforeWrite(resource)
		}
		if m.write(resource, policy, readEtag) {
			return nil
		}
	}
	return fmt.Errorf("modify IAM policy of %s: %w", resource, outbound.ErrConflict)
}

// Policy returns a copy of the stored policy for inspection.
func (m *ResourceManager) Policy(resource string) outbound.IamPolicy {
	return m.read(resource)
}

// SetPolicy replaces the stored policy, bumping the etag.
func (m *ResourceManager) SetPolicy(resource string, policy outbound.IamPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision++
	policy.Etag = fmt.Sprintf("W/%d", m.revision)
	m.policies[resource] = clonePolicy(policy)
}

func (m *ResourceManager) read(resource string) outbound.IamPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePolicy(m.policies[resource])
}

func (m *ResourceManager) write(resource string, policy outbound.IamPolicy, readEtag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policies[resource].Etag != readEtag {
		return false
	}
	m.revision++
	policy.Etag = fmt.Sprintf("W/%d", m.revision)
	m.policies[resource] = clonePolicy(policy)
	return true
}

func clonePolicy(policy outbound.IamPolicy) outbound.IamPolicy {
	bindings := make([]outbound.IamBinding, len(policy.Bindings))
	for i, binding := range policy.Bindings {
		members := make([]string, len(binding.Members))
		copy(members, binding.Members)
		bindings[i] = outbound.IamBinding{Role: binding.Role, Members: members}
		if binding.Condition != nil {
			condition := *binding.Condition
			bindings[i].Condition = &condition
		}
	}
	return outbound.IamPolicy{Bindings: bindings, Etag: policy.Etag}
}
