package policy

import (
	"context"
	"fmt"
	"time"
)

// ExpiryInputName is the input property under which a user-defined
// expiry is supplied, in seconds.
const ExpiryInputName = "expiry"

// ExpiryConstraint bounds how long a membership lasts. A fixed
// constraint (Min == Max) always grants exactly that duration and
// requires no input. A ranged constraint exposes a required duration
// input that must fall within [Min, Max].
type ExpiryConstraint struct {
	min time.Duration
	max time.Duration
}

// NewExpiryConstraint builds an expiry constraint. min must not exceed
// max and both must be positive.
func NewExpiryConstraint(min, max time.Duration) (*ExpiryConstraint, error) {
	if min <= 0 || max <= 0 {
		return nil, fmt.Errorf("expiry bounds must be positive, got [%s, %s]", min, max)
	}
	if min > max {
		return nil, fmt.Errorf("expiry minimum %s exceeds maximum %s", min, max)
	}
	return &ExpiryConstraint{min: min, max: max}, nil
}

// Name is fixed so that a child policy's expiry constraint shadows the
// parent's.
func (c *ExpiryConstraint) Name() string { return "expiry" }

func (c *ExpiryConstraint) DisplayName() string {
	if c.IsFixed() {
		return fmt.Sprintf("Membership expires after %s", c.min)
	}
	return fmt.Sprintf("Membership duration between %s and %s", c.min, c.max)
}

// IsFixed reports whether the constraint grants a single, fixed
// duration.
func (c *ExpiryConstraint) IsFixed() bool { return c.min == c.max }

// Min returns the lower duration bound.
func (c *ExpiryConstraint) Min() time.Duration { return c.min }

// Max returns the upper duration bound.
func (c *ExpiryConstraint) Max() time.Duration { return c.max }

// NewCheck exposes a duration input for ranged constraints; fixed
// constraints have no input and are always satisfied.
func (c *ExpiryConstraint) NewCheck() *Check {
	if c.IsFixed() {
		return NewCheck(c, nil, func(context.Context, *Check) (bool, error) {
			return true, nil
		})
	}

	minSeconds := int64(c.min / time.Second)
	maxSeconds := int64(c.max / time.Second)
	input := []*Property{
		NewProperty(
			ExpiryInputName,
			"Membership duration in seconds",
			PropertyDuration,
			true,
			&minSeconds,
			&maxSeconds),
	}

	return NewCheck(c, input, func(_ context.Context, check *Check) (bool, error) {
		// Range validation happened at Set time; satisfied iff the
		// input was supplied.
		for _, p := range check.Input() {
			if p.Name() == ExpiryInputName {
				return p.IsSet(), nil
			}
		}
		return false, nil
	})
}

// ExtractExpiry returns the membership duration granted by this
// constraint given the analysis result: the fixed duration, or the
// user-supplied one.
func (c *ExpiryConstraint) ExtractExpiry(result *AnalysisResult) (time.Duration, bool) {
	if c.IsFixed() {
		return c.min, true
	}
	for _, p := range result.Input {
		if p.Name() == ExpiryInputName {
			return p.DurationValue()
		}
	}
	return 0, false
}
