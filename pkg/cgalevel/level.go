// Package cgalevel defines the ordered CGA certification level enumeration
// and the fixed properties each level carries. It is shared by
// verification, certificate generation, token claims, and trust-policy
// evaluation so there is exactly one ordering and one validity table in the
// whole engine.
package cgalevel

import (
	"time"

	"github.com/aigos/cga-engine/pkg/errs"
)

// Level is one of the four ordered CGA certification tiers.
type Level string

const (
	Bronze   Level = "BRONZE"
	Silver   Level = "SILVER"
	Gold     Level = "GOLD"
	Platinum Level = "PLATINUM"
)

// Properties are the fixed per-level rules.
type Properties struct {
	ValidityDays   int
	CASigned       bool
	ManualReview   bool
}

var table = map[Level]Properties{
	Bronze:   {ValidityDays: 30, CASigned: false, ManualReview: false},
	Silver:   {ValidityDays: 90, CASigned: true, ManualReview: false},
	Gold:     {ValidityDays: 180, CASigned: true, ManualReview: false},
	Platinum: {ValidityDays: 365, CASigned: true, ManualReview: true},
}

var order = map[Level]int{Bronze: 0, Silver: 1, Gold: 2, Platinum: 3}

// All lists the levels from lowest to highest.
var All = []Level{Bronze, Silver, Gold, Platinum}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	_, ok := order[l]
	return ok
}

// Ord returns the level's position in the ladder (BRONZE=0 .. PLATINUM=3).
// An unknown level sorts below BRONZE (-1) so comparisons involving a
// missing/zero level never spuriously satisfy a minimum-level check.
func (l Level) Ord() int {
	if v, ok := order[l]; ok {
		return v
	}
	return -1
}

// AtLeast reports whether l is the same as or above min in the ladder.
func (l Level) AtLeast(min Level) bool {
	return l.Ord() >= min.Ord()
}

// Properties returns the fixed rules for l, or an error if l is unknown.
func (l Level) Properties() (Properties, error) {
	p, ok := table[l]
	if !ok {
		return Properties{}, errs.New(errs.SchemaViolation, "unknown CGA level %q", l)
	}
	return p, nil
}

// ValidityDuration is a convenience over Properties().ValidityDays.
func (l Level) ValidityDuration() (time.Duration, error) {
	p, err := l.Properties()
	if err != nil {
		return 0, err
	}
	return time.Duration(p.ValidityDays) * 24 * time.Hour, nil
}

// Max returns the higher of two levels by ladder order.
func Max(a, b Level) Level {
	if a.Ord() >= b.Ord() {
		return a
	}
	return b
}
