package middleware

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/aigos/cga-engine/pkg/certificate"
	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/risklevel"
	"github.com/aigos/cga-engine/pkg/signing"
	"github.com/aigos/cga-engine/pkg/token"
	"github.com/aigos/cga-engine/pkg/trustpolicy"
)

func mustPipeline(t *testing.T) (*Pipeline, *signing.ECDSASigner) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := signing.NewECDSASigner("mw-key", priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	verifier := &token.Verifier{Resolver: signing.StaticResolver{"mw-key": &priv.PublicKey}}
	evaluator := &trustpolicy.Evaluator{
		Policy: &trustpolicy.Policy{
			Default:    trustpolicy.Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze},
			TrustedCAs: []trustpolicy.TrustedCA{{ID: "self"}},
		},
	}
	return &Pipeline{Verifier: verifier, Evaluator: evaluator}, signer
}

func mintToken(t *testing.T, signer *signing.ECDSASigner, expiresAt time.Time) string {
	t.Helper()
	minter := &token.Minter{Signer: signer}
	compact := &certificate.Compact{
		ID:        "cga-20260305-agent-001-bronze",
		AgentID:   "self",
		Level:     "BRONZE",
		IssuerID:  "self",
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	result, err := minter.Mint(token.MintRequest{
		Certificate:      compact,
		Audience:         []string{"urn:aigos:agent:org:target"},
		AssetID:          "asset-001",
		GoldenThreadHash: "sha256:abc",
		RiskLevel:        risklevel.Limited,
		Capabilities:     []string{"read"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return result.Token
}

func TestHandle_MissingToken(t *testing.T) {
	pipeline, _ := mustPipeline(t)
	outcome := pipeline.Handle(RequestMeta{Headers: map[string]string{}, Method: "GET", Path: "/agents"})
	if outcome.Failure == nil || outcome.Failure.Code != MissingToken {
		t.Fatalf("expected MISSING_TOKEN, got %+v", outcome)
	}
	if outcome.Failure.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", outcome.Failure.StatusCode)
	}
}

func TestHandle_SuccessPath(t *testing.T) {
	pipeline, signer := mustPipeline(t)
	tok := mintToken(t, signer, time.Now().UTC().Add(30*24*time.Hour))
	outcome := pipeline.Handle(RequestMeta{
		Headers: map[string]string{DefaultTokenHeader: tok},
		Method:  "GET",
		Path:    "/agents",
	})
	if outcome.Success == nil {
		t.Fatalf("expected success, got failure %+v", outcome.Failure)
	}
	if !outcome.Success.TrustResult.Trusted {
		t.Fatalf("expected trusted result")
	}
}

func TestHandle_ExpiredTokenMapsToTokenExpiredCode(t *testing.T) {
	pipeline, signer := mustPipeline(t)
	minter := &token.Minter{Signer: signer, Validity: -time.Minute}
	compact := &certificate.Compact{
		ID: "cga-x", AgentID: "self", Level: "BRONZE", IssuerID: "self",
		IssuedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(30 * 24 * time.Hour),
	}
	minted, err := minter.Mint(token.MintRequest{
		Certificate: compact, Audience: []string{"aud"}, AssetID: "a",
		GoldenThreadHash: "sha256:abc", RiskLevel: risklevel.Minimal,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	outcome := pipeline.Handle(RequestMeta{Headers: map[string]string{DefaultTokenHeader: minted.Token}})
	if outcome.Failure == nil || outcome.Failure.Code != TokenExpiredCode {
		t.Fatalf("expected TOKEN_EXPIRED, got %+v", outcome)
	}
}

func TestHandle_NoTokenPassesWhenCGANotRequired(t *testing.T) {
	evaluator := &trustpolicy.Evaluator{
		Policy: &trustpolicy.Policy{
			Default: trustpolicy.Default{RequireCGA: false},
		},
	}
	pipeline := &Pipeline{Verifier: &token.Verifier{}, Evaluator: evaluator}
	outcome := pipeline.Handle(RequestMeta{Headers: map[string]string{}, Method: "GET", Path: "/agents"})
	if outcome.Failure != nil {
		t.Fatalf("expected success, got failure %+v", outcome.Failure)
	}
	if outcome.Success == nil || !outcome.Success.TrustResult.Trusted {
		t.Fatalf("expected trusted result, got %+v", outcome)
	}
	if outcome.Success.Claims != nil {
		t.Fatalf("expected nil verify result when no token presented, got %+v", outcome.Success.Claims)
	}
}

func TestHandle_NoTokenFailsWhenActionRuleRequiresCGA(t *testing.T) {
	evaluator := &trustpolicy.Evaluator{
		Policy: &trustpolicy.Policy{
			Default: trustpolicy.Default{RequireCGA: false},
			Actions: []trustpolicy.ActionRule{
				{Pattern: "post.admin.*", RequireCGA: boolPtr(true)},
			},
		},
	}
	pipeline := &Pipeline{Verifier: &token.Verifier{}, Evaluator: evaluator}
	outcome := pipeline.Handle(RequestMeta{Headers: map[string]string{}, Method: "POST", Path: "/admin/users"})
	if outcome.Failure == nil || outcome.Failure.Code != MissingToken {
		t.Fatalf("expected MISSING_TOKEN, got %+v", outcome)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestDefaultActionExtractor(t *testing.T) {
	got := DefaultActionExtractor(RequestMeta{Method: "GET", Path: "/admin/users"})
	if got != "get.admin.users" {
		t.Fatalf("unexpected action: %s", got)
	}
}
