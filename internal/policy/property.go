package policy

import (
	"fmt"
	"strconv"
	"time"
)

// PropertyType is the declared type of a constraint input.
type PropertyType string

const (
	// PropertyString is free-form text.
	PropertyString PropertyType = "string"
	// PropertyBool is true/false.
	PropertyBool PropertyType = "boolean"
	// PropertyLong is a 64-bit integer.
	PropertyLong PropertyType = "long"
	// PropertyDuration is a duration, supplied in seconds.
	PropertyDuration PropertyType = "duration"
)

// Property is a typed, user-supplied constraint input. Set parses and
// validates the raw string form; typed accessors return the parsed
// value. Properties are mutable and shared between checks that declare
// the same input name.
type Property struct {
	name        string
	displayName string
	typ         PropertyType
	required    bool

	// Inclusive bounds; nil means unbounded. For durations the bounds
	// are in seconds, like the value.
	minInclusive *int64
	maxInclusive *int64

	set   bool
	raw   string
	value any
}

// NewProperty declares a constraint input.
func NewProperty(name, displayName string, typ PropertyType, required bool, minInclusive, maxInclusive *int64) *Property {
	return &Property{
		name:         name,
		displayName:  displayName,
		typ:          typ,
		required:     required,
		minInclusive: minInclusive,
		maxInclusive: maxInclusive,
	}
}

func (p *Property) Name() string        { return p.name }
func (p *Property) DisplayName() string { return p.displayName }
func (p *Property) Type() PropertyType  { return p.typ }
func (p *Property) Required() bool      { return p.required }
func (p *Property) IsSet() bool         { return p.set }

// MinInclusive returns the lower bound, if any.
func (p *Property) MinInclusive() (int64, bool) {
	if p.minInclusive == nil {
		return 0, false
	}
	return *p.minInclusive, true
}

// MaxInclusive returns the upper bound, if any.
func (p *Property) MaxInclusive() (int64, bool) {
	if p.maxInclusive == nil {
		return 0, false
	}
	return *p.maxInclusive, true
}

// Set parses the raw string according to the declared type and
// validates bounds. A failure leaves the property unset.
func (p *Property) Set(raw string) error {
	value, err := p.parse(raw)
	if err != nil {
		return err
	}
	p.raw = raw
	p.value = value
	p.set = true
	return nil
}

func (p *Property) parse(raw string) (any, error) {
	switch p.typ {
	case PropertyString:
		return raw, nil
	case PropertyBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &InvalidInputError{Property: p.name, Reason: fmt.Sprintf("%q is not a boolean", raw)}
		}
		return v, nil
	case PropertyLong, PropertyDuration:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &InvalidInputError{Property: p.name, Reason: fmt.Sprintf("%q is not a number", raw)}
		}
		if err := p.checkRange(v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, &InvalidInputError{Property: p.name, Reason: fmt.Sprintf("unknown property type %q", p.typ)}
	}
}

func (p *Property) checkRange(v int64) error {
	if p.minInclusive != nil && v < *p.minInclusive {
		return &InvalidInputError{
			Property: p.name,
			Reason:   fmt.Sprintf("value %d is below the minimum of %d", v, *p.minInclusive),
		}
	}
	if p.maxInclusive != nil && v > *p.maxInclusive {
		return &InvalidInputError{
			Property: p.name,
			Reason:   fmt.Sprintf("value %d is above the maximum of %d", v, *p.maxInclusive),
		}
	}
	return nil
}

// Get returns the raw string form, or nil when unset. Used when
// serializing inputs into a deferral token.
func (p *Property) Get() *string {
	if !p.set {
		return nil
	}
	raw := p.raw
	return &raw
}

// Value returns the parsed value: string, bool, or int64.
func (p *Property) Value() (any, bool) {
	return p.value, p.set
}

// DurationValue returns the parsed duration for duration-typed
// properties. The raw value is in seconds.
func (p *Property) DurationValue() (time.Duration, bool) {
	if !p.set || p.typ != PropertyDuration {
		return 0, false
	}
	return time.Duration(p.value.(int64)) * time.Second, true
}

// VerifyRequired returns an error when a required property is unset.
func (p *Property) VerifyRequired() error {
	if p.required && !p.set {
		return &InvalidInputError{Property: p.name, Reason: "required input is missing"}
	}
	return nil
}
