// Package canon implements the engine's single source of cryptographic
// truth: a deterministic string form for small structured records and the
// SHA-256 hash over it. Every other component that needs a stable hash of a
// record (the Golden Thread, certificate embedding fields, token payloads)
// goes through this package so the canonicalization logic is written, and
// tested, exactly once.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aigos/cga-engine/pkg/errs"
)

// Field describes one value of a record to be canonicalized. IsTimestamp
// marks values that must parse as RFC-3339 and get normalized to UTC with a
// trailing "Z" and no sub-second fraction before being emitted.
type Field struct {
	Name        string
	Value       string
	IsTimestamp bool
}

// Canonical builds the deterministic "k1=v1|k2=v2|..." form of a record:
// fields are sorted by the lexicographic order of their UTF-8 name, and any
// field marked IsTimestamp is normalized to UTC with a "Z" suffix. Canonical
// fails with errs.BadTimestamp if a timestamp field doesn't parse as
// RFC-3339.
func Canonical(fields []Field) (string, error) {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		value := f.Value
		if f.IsTimestamp {
			normalized, err := NormalizeTimestamp(value)
			if err != nil {
				return "", err
			}
			value = normalized
		}
		parts = append(parts, f.Name+"="+value)
	}
	return strings.Join(parts, "|"), nil
}

// NormalizeTimestamp parses an RFC-3339 timestamp and re-renders it in UTC
// with a trailing "Z" and no sub-second fraction.
func NormalizeTimestamp(value string) (string, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// RFC-3339 allows sub-second fractions; time.RFC3339Nano covers those.
		t, err = time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return "", errs.New(errs.BadTimestamp, "value %q is not a valid RFC-3339 timestamp", value)
		}
	}
	return t.UTC().Format("2006-01-02T15:04:05Z"), nil
}

// Hash returns "sha256:<lowercase hex>" over the UTF-8 bytes of a canonical
// string. It is deterministic across runs and platforms because Canonical
// never depends on map iteration order or locale.
func Hash(canonicalForm string) string {
	sum := sha256.Sum256([]byte(canonicalForm))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HashFields is a convenience that canonicalizes then hashes in one call.
func HashFields(fields []Field) (string, error) {
	form, err := Canonical(fields)
	if err != nil {
		return "", err
	}
	return Hash(form), nil
}

// ParseHash validates and splits a "sha256:<64 hex>" value, returning the
// raw hex digest. It fails with errs.BadFormat on any other shape.
func ParseHash(hash string) (string, error) {
	const prefix = "sha256:"
	if !strings.HasPrefix(hash, prefix) {
		return "", errs.New(errs.BadFormat, "hash %q is missing the %q prefix", hash, prefix)
	}
	digest := strings.TrimPrefix(hash, prefix)
	if len(digest) != 64 {
		return "", errs.New(errs.BadFormat, "hash digest must be 64 hex characters, got %d", len(digest))
	}
	for _, r := range digest {
		if !isHexDigit(r) {
			return "", errs.New(errs.BadFormat, "hash digest contains non-hex character %q", r)
		}
	}
	return digest, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// ConstantTimeEqual compares two strings in constant time with respect to
// the length of a, to avoid leaking hash-comparison timing. It is used for
// the Golden Thread and certificate hash comparisons, where both sides are
// attacker-influenced.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Sprint renders a field slice for error messages/tests without going
// through the canonicalization rules (no sorting, no timestamp checks).
func Sprint(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s=%s", f.Name, f.Value)
	}
	return strings.Join(parts, "|")
}
