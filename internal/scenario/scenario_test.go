package scenario

import "testing"

func TestResolveKnownKey(t *testing.T) {
	r := NewRegistry()
	p := r.Resolve("appointment_reminder")
	if p.Key != "appointment_reminder" {
		t.Fatalf("expected appointment_reminder, got %q", p.Key)
	}
}

func TestResolveUnknownFallsBack(t *testing.T) {
	r := NewRegistry()
	p := r.Resolve("no-such-scenario")
	if p.Key != "receptionist" {
		t.Fatalf("expected default persona, got %q", p.Key)
	}
	if r.Resolve("").Key != "receptionist" {
		t.Fatalf("empty key should resolve to default")
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	if r.Resolve("Follow_Up").Key != "follow_up" {
		t.Fatalf("keys should be case-insensitive")
	}
}

func TestRegisterOverride(t *testing.T) {
	r := NewRegistry()
	r.Register(Persona{Key: "receptionist", Name: "Custom", Instructions: "custom"})
	if r.Resolve("receptionist").Instructions != "custom" {
		t.Fatalf("register should replace the persona")
	}
}
