// Package provision materializes JIT group memberships and IAM role
// bindings in the external directory and resource manager, converging
// idempotently via a checksum embedded in the group description.
package provision

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/groupgate/groupgate/internal/policy"
)

// descriptionTagPattern matches the checksum tag at the end of a group
// description.
var descriptionTagPattern = regexp.MustCompile(`#([0-9a-f]{2,8})$`)

// Checksum is a 32-bit checksum over a set of IAM role bindings.
// Per-binding checksums are XOR-combined, so the order of bindings is
// insignificant.
type Checksum uint32

// ChecksumOfBindings computes the checksum for a binding set.
func ChecksumOfBindings(bindings []policy.IamRoleBinding) Checksum {
	var sum uint32
	for _, b := range bindings {
		sum ^= b.Checksum()
	}
	return Checksum(sum)
}

// ChecksumFromTaggedDescription extracts the checksum embedded in a
// group description, or zero when the description carries no tag.
func ChecksumFromTaggedDescription(description string) Checksum {
	match := descriptionTagPattern.FindStringSubmatch(description)
	if match == nil {
		return 0
	}
	v, err := strconv.ParseUint(match[1], 16, 32)
	if err != nil {
		return 0
	}
	return Checksum(v)
}

// TaggedDescription returns the description with its trailing tag set
// to this checksum, appending a tag when none is present.
func (c Checksum) TaggedDescription(description string) string {
	if description == "" {
		return "#" + c.String()
	}
	if loc := descriptionTagPattern.FindStringSubmatchIndex(description); loc != nil {
		return description[:loc[2]] + c.String() + description[loc[3]:]
	}
	return fmt.Sprintf("%s #%s", description, c)
}

func (c Checksum) String() string {
	return fmt.Sprintf("%08x", uint32(c))
}
