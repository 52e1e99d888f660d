package canon

import "testing"

func TestCanonical_SortsFieldsByName(t *testing.T) {
	form, err := Canonical([]Field{
		{Name: "ticket_id", Value: "FIN-1234"},
		{Name: "approved_by", Value: "ciso@corp.com"},
		{Name: "approved_at", Value: "2025-01-15T10:30:00Z", IsTimestamp: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "approved_at=2025-01-15T10:30:00Z|approved_by=ciso@corp.com|ticket_id=FIN-1234"
	if form != want {
		t.Errorf("got %q, want %q", form, want)
	}
}

func TestCanonical_NormalizesTimestampOffset(t *testing.T) {
	form, err := Canonical([]Field{
		{Name: "approved_at", Value: "2025-01-15T05:30:00-05:00", IsTimestamp: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form != "approved_at=2025-01-15T10:30:00Z" {
		t.Errorf("got %q", form)
	}
}

func TestCanonical_BadTimestamp(t *testing.T) {
	_, err := Canonical([]Field{{Name: "x", Value: "not-a-time", IsTimestamp: true}})
	if err == nil {
		t.Fatalf("expected BadTimestamp error, got nil")
	}
}

func TestCanonical_Idempotent(t *testing.T) {
	fields := []Field{
		{Name: "b", Value: "2"},
		{Name: "a", Value: "1"},
	}
	form1, _ := Canonical(fields)
	form2, _ := Canonical([]Field{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}})
	if form1 != form2 {
		t.Errorf("canonical form should not depend on input order: %q vs %q", form1, form2)
	}
}

func TestHash_DeterministicAndFlipSensitive(t *testing.T) {
	h1 := Hash("a=1|b=2")
	h2 := Hash("a=1|b=2")
	if h1 != h2 {
		t.Fatalf("hash must be deterministic")
	}
	h3 := Hash("a=1|b=3")
	if h1 == h3 {
		t.Fatalf("flipping a byte of input must flip the hash")
	}
	if h1[:7] != "sha256:" {
		t.Errorf("hash must carry sha256: prefix, got %q", h1)
	}
}

func TestParseHash_RejectsBadFormat(t *testing.T) {
	cases := []string{"", "md5:abc", "sha256:short", "sha256:" + string(make([]byte, 64))}
	for _, c := range cases[:3] {
		if _, err := ParseHash(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Error("expected equal")
	}
	if ConstantTimeEqual("abc", "abd") {
		t.Error("expected not equal")
	}
	if ConstantTimeEqual("abc", "ab") {
		t.Error("expected not equal for different lengths")
	}
}
