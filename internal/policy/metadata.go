package policy

import "time"

// Metadata describes where a policy came from. Child nodes that do not
// provide metadata inherit the parent's.
type Metadata struct {
	// Source names the origin of the policy document, such as a file
	// path or secret locator.
	Source string

	// LastModified is when the source was last changed.
	LastModified time.Time
}
