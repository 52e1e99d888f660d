package cgalevel

import "testing"

func TestOrdering(t *testing.T) {
	if !(Bronze.Ord() < Silver.Ord() && Silver.Ord() < Gold.Ord() && Gold.Ord() < Platinum.Ord()) {
		t.Fatalf("expected BRONZE < SILVER < GOLD < PLATINUM")
	}
}

func TestAtLeast(t *testing.T) {
	if !Gold.AtLeast(Silver) {
		t.Fatalf("GOLD should be at least SILVER")
	}
	if Silver.AtLeast(Gold) {
		t.Fatalf("SILVER should not be at least GOLD")
	}
	if !Gold.AtLeast(Gold) {
		t.Fatalf("a level should be at least itself")
	}
}

func TestUnknownLevel(t *testing.T) {
	var l Level = "TITANIUM"
	if l.Valid() {
		t.Fatalf("TITANIUM should not be a valid level")
	}
	if l.Ord() != -1 {
		t.Fatalf("unknown level should order below BRONZE, got %d", l.Ord())
	}
	if l.AtLeast(Bronze) {
		t.Fatalf("unknown level should not satisfy AtLeast(BRONZE)")
	}
}

func TestProperties(t *testing.T) {
	p, err := Platinum.Properties()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ValidityDays != 365 || !p.CASigned || !p.ManualReview {
		t.Fatalf("unexpected PLATINUM properties: %+v", p)
	}

	if _, err := Level("X").Properties(); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestValidityDuration(t *testing.T) {
	d, err := Bronze.ValidityDuration()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Hours() != 30*24 {
		t.Fatalf("expected 30 days, got %v", d)
	}
}

func TestMax(t *testing.T) {
	if Max(Bronze, Gold) != Gold {
		t.Fatalf("expected Max(BRONZE, GOLD) == GOLD")
	}
	if Max(Platinum, Silver) != Platinum {
		t.Fatalf("expected Max(PLATINUM, SILVER) == PLATINUM")
	}
}
