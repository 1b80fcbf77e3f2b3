package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewExpiryConstraintValidatesBounds(t *testing.T) {
	if _, err := NewExpiryConstraint(0, time.Hour); err == nil {
		t.Error("zero minimum must be rejected")
	}
	if _, err := NewExpiryConstraint(2*time.Hour, time.Hour); err == nil {
		t.Error("min > max must be rejected")
	}
	if _, err := NewExpiryConstraint(time.Hour, time.Hour); err != nil {
		t.Errorf("fixed bounds must be accepted: %v", err)
	}
}

func TestFixedExpiryCheckHasNoInputAndIsSatisfied(t *testing.T) {
	c, _ := NewExpiryConstraint(time.Hour, time.Hour)
	if !c.IsFixed() {
		t.Fatal("constraint with equal bounds must be fixed")
	}

	check := c.NewCheck()
	if len(check.Input()) != 0 {
		t.Errorf("fixed expiry must expose no input, got %d", len(check.Input()))
	}
	ok, err := check.Execute(context.Background())
	if err != nil || !ok {
		t.Errorf("Execute() = %v, %v; want satisfied", ok, err)
	}
}

func TestRangedExpiryCheckRequiresInput(t *testing.T) {
	c, _ := NewExpiryConstraint(30*time.Minute, 2*time.Hour)
	check := c.NewCheck()

	input := check.Input()
	if len(input) != 1 || input[0].Name() != ExpiryInputName {
		t.Fatalf("ranged expiry must expose the %q input, got %v", ExpiryInputName, input)
	}
	if input[0].Type() != PropertyDuration || !input[0].Required() {
		t.Error("expiry input must be a required duration")
	}
	if minBound, ok := input[0].MinInclusive(); !ok || minBound != 1800 {
		t.Errorf("min bound = %d (%v), want 1800 seconds", minBound, ok)
	}
	if maxBound, ok := input[0].MaxInclusive(); !ok || maxBound != 7200 {
		t.Errorf("max bound = %d (%v), want 7200 seconds", maxBound, ok)
	}

	ok, err := check.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("check without input must be unsatisfied")
	}

	if err := input[0].Set("3600"); err != nil {
		t.Fatal(err)
	}
	if ok, err := check.Execute(context.Background()); err != nil || !ok {
		t.Errorf("Execute() after Set = %v, %v; want satisfied", ok, err)
	}
}

func TestRangedExpiryKeepsSecondGranularity(t *testing.T) {
	c, err := NewExpiryConstraint(90*time.Second, 72*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	check := c.NewCheck()
	input := check.Input()[0]

	// A 90-second minimum must not round down and admit shorter values.
	var invalid *InvalidInputError
	if err := input.Set("60"); !errors.As(err, &invalid) {
		t.Errorf("Set(60) = %v, want InvalidInputError below the 90s minimum", err)
	}

	if err := input.Set("120"); err != nil {
		t.Fatal(err)
	}
	result := &AnalysisResult{Input: []*Property{input}}
	if d, ok := c.ExtractExpiry(result); !ok || d != 120*time.Second {
		t.Errorf("ExtractExpiry = %v (%v), want 120s", d, ok)
	}
}

func TestExtractExpiry(t *testing.T) {
	fixed, _ := NewExpiryConstraint(time.Hour, time.Hour)
	if d, ok := fixed.ExtractExpiry(&AnalysisResult{}); !ok || d != time.Hour {
		t.Errorf("fixed ExtractExpiry = %v (%v), want 1h", d, ok)
	}

	ranged, _ := NewExpiryConstraint(30*time.Minute, 2*time.Hour)
	input := NewProperty(ExpiryInputName, "", PropertyDuration, true, nil, nil)
	result := &AnalysisResult{Input: []*Property{input}}

	if _, ok := ranged.ExtractExpiry(result); ok {
		t.Error("unset input must yield no expiry")
	}
	if err := input.Set("2700"); err != nil {
		t.Fatal(err)
	}
	if d, ok := ranged.ExtractExpiry(result); !ok || d != 45*time.Minute {
		t.Errorf("ranged ExtractExpiry = %v (%v), want 45m", d, ok)
	}
}
