// Package goldenthread implements the engine's chain-of-custody binding:
// build, verify, and extract the immutable ticket→approval→hash tuple that
// every agent instance is anchored to.
package goldenthread

import (
	"net/mail"
	"strings"
	"time"

	"github.com/aigos/cga-engine/pkg/canon"
	"github.com/aigos/cga-engine/pkg/errs"
)

// GoldenThread is the immutable tuple binding an agent to its business
// authorization.
type GoldenThread struct {
	TicketID    string `json:"ticket_id"`
	ApprovedBy  string `json:"approved_by"`
	ApprovedAt  string `json:"approved_at"`
	Hash        string `json:"hash,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

// Components is the subset of a Golden Thread that participates in the
// canonical hash. It is split out from GoldenThread so verify/extract can
// operate on data pulled from other documents (an asset card's embedded
// golden_thread block, or a ticket's most recent approval) without needing
// a full GoldenThread value.
type Components struct {
	TicketID   string
	ApprovedBy string
	ApprovedAt string
}

// VerifyResult is the outcome of recomputing and comparing a hash.
type VerifyResult struct {
	Verified       bool
	Computed       string
	MismatchReason string
}

func fields(c Components) []canon.Field {
	return []canon.Field{
		{Name: "ticket_id", Value: c.TicketID},
		{Name: "approved_by", Value: strings.ToLower(c.ApprovedBy)},
		{Name: "approved_at", Value: c.ApprovedAt, IsTimestamp: true},
	}
}

// Hash computes sha256:<hex> over the canonical form of the components.
func Hash(c Components) (string, error) {
	return canon.HashFields(fields(c))
}

// Build validates ticket_id, approved_by, and approved_at, then returns a
// GoldenThread with its hash populated.
func Build(ticketID, approvedBy, approvedAt string) (*GoldenThread, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, errs.New(errs.BadFormat, "ticket_id must not be empty")
	}
	if _, err := mail.ParseAddress(approvedBy); err != nil {
		return nil, errs.New(errs.BadFormat, "approved_by %q is not a valid email address", approvedBy)
	}
	if _, err := time.Parse(time.RFC3339, approvedAt); err != nil {
		return nil, errs.New(errs.BadTimestamp, "approved_at %q is not RFC-3339", approvedAt)
	}

	c := Components{TicketID: ticketID, ApprovedBy: approvedBy, ApprovedAt: approvedAt}
	hash, err := Hash(c)
	if err != nil {
		return nil, err
	}
	return &GoldenThread{
		TicketID:   ticketID,
		ApprovedBy: approvedBy,
		ApprovedAt: approvedAt,
		Hash:       hash,
	}, nil
}

// Verify recomputes hash(components) and compares it against expectedHash
// in constant time. A malformed hash on either side fails with BadFormat;
// a well-formed mismatch fails with HashMismatch.
func Verify(components Components, expectedHash string) (*VerifyResult, error) {
	if _, err := canon.ParseHash(expectedHash); err != nil {
		return nil, err
	}
	computed, err := Hash(components)
	if err != nil {
		if de, ok := err.(*errs.Error); ok {
			return nil, de
		}
		return nil, err
	}

	if canon.ConstantTimeEqual(computed, expectedHash) {
		return &VerifyResult{Verified: true, Computed: computed}, nil
	}
	return &VerifyResult{
		Verified:       false,
		Computed:       computed,
		MismatchReason: "computed hash does not match expected hash",
	}, errs.New(errs.HashMismatch, "golden thread hash mismatch: computed %s, expected %s", computed, expectedHash)
}

// AssetLike is the minimal surface goldenthread.Extract needs from an asset
// card or similar document: either an embedded golden_thread block, or a
// list of ticket approvals to fall back to.
type AssetLike struct {
	GoldenThread *Components
	Approvals    []Approval
}

// Approval is one ticket approval record, used as a fallback source when no
// golden_thread block is present on the asset.
type Approval struct {
	TicketID   string
	ApprovedBy string
	Date       string // RFC-3339
}

// Extract prefers an explicit golden_thread block; otherwise it falls back
// to the most recent approval (by Date) of a linked ticket. It returns nil
// if neither source is present.
func Extract(asset AssetLike) *Components {
	if asset.GoldenThread != nil {
		return asset.GoldenThread
	}
	if len(asset.Approvals) == 0 {
		return nil
	}
	latest := asset.Approvals[0]
	latestTime, _ := time.Parse(time.RFC3339, latest.Date)
	for _, a := range asset.Approvals[1:] {
		t, err := time.Parse(time.RFC3339, a.Date)
		if err != nil {
			continue
		}
		if t.After(latestTime) {
			latest = a
			latestTime = t
		}
	}
	return &Components{TicketID: latest.TicketID, ApprovedBy: latest.ApprovedBy, ApprovedAt: latest.Date}
}
