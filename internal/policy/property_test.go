package policy

import (
	"errors"
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

func TestPropertySetParsesByType(t *testing.T) {
	tests := []struct {
		name    string
		typ     PropertyType
		raw     string
		want    any
		wantErr bool
	}{
		{name: "string", typ: PropertyString, raw: "hello", want: "hello"},
		{name: "boolean true", typ: PropertyBool, raw: "true", want: true},
		{name: "boolean invalid", typ: PropertyBool, raw: "yep", wantErr: true},
		{name: "long", typ: PropertyLong, raw: "42", want: int64(42)},
		{name: "long invalid", typ: PropertyLong, raw: "fortytwo", wantErr: true},
		{name: "duration seconds", typ: PropertyDuration, raw: "90", want: int64(90)},
		{name: "duration invalid", typ: PropertyDuration, raw: "1h30m", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProperty("p", "P", tc.typ, false, nil, nil)
			err := p.Set(tc.raw)
			if tc.wantErr {
				var invalid *InvalidInputError
				if !errors.As(err, &invalid) {
					t.Fatalf("Set(%q) = %v, want InvalidInputError", tc.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set(%q): %v", tc.raw, err)
			}
			got, ok := p.Value()
			if !ok || got != tc.want {
				t.Errorf("Value() = %v (%v), want %v", got, ok, tc.want)
			}
		})
	}
}

func TestPropertyRangeCheckedAtSetTime(t *testing.T) {
	p := NewProperty("expiry", "Expiry", PropertyDuration, true, int64p(30), int64p(120))

	for _, raw := range []string{"29", "121", "-5"} {
		var invalid *InvalidInputError
		if err := p.Set(raw); !errors.As(err, &invalid) {
			t.Errorf("Set(%q) = %v, want InvalidInputError", raw, err)
		}
	}
	if err := p.Set("30"); err != nil {
		t.Errorf("Set(30): %v", err)
	}
	if err := p.Set("120"); err != nil {
		t.Errorf("bounds must be inclusive, Set(120): %v", err)
	}
}

func TestPropertyDurationValue(t *testing.T) {
	p := NewProperty("expiry", "Expiry", PropertyDuration, true, nil, nil)
	if _, ok := p.DurationValue(); ok {
		t.Error("unset property must have no duration")
	}
	if err := p.Set("90"); err != nil {
		t.Fatal(err)
	}
	if d, ok := p.DurationValue(); !ok || d != 90*time.Second {
		t.Errorf("DurationValue() = %v (%v), want 90s", d, ok)
	}
}

func TestPropertyVerifyRequired(t *testing.T) {
	required := NewProperty("ticket", "Ticket", PropertyString, true, nil, nil)
	var invalid *InvalidInputError
	if err := required.VerifyRequired(); !errors.As(err, &invalid) {
		t.Errorf("VerifyRequired on unset required property = %v, want InvalidInputError", err)
	}
	if err := required.Set("T-1"); err != nil {
		t.Fatal(err)
	}
	if err := required.VerifyRequired(); err != nil {
		t.Errorf("VerifyRequired after Set: %v", err)
	}

	optional := NewProperty("note", "Note", PropertyString, false, nil, nil)
	if err := optional.VerifyRequired(); err != nil {
		t.Errorf("VerifyRequired on optional property: %v", err)
	}
}

func TestPropertyGetReturnsRawText(t *testing.T) {
	p := NewProperty("expiry", "Expiry", PropertyDuration, true, nil, nil)
	if p.Get() != nil {
		t.Error("unset property must serialize to nil")
	}
	if err := p.Set("60"); err != nil {
		t.Fatal(err)
	}
	if raw := p.Get(); raw == nil || *raw != "60" {
		t.Errorf("Get() = %v, want \"60\"", raw)
	}
}
