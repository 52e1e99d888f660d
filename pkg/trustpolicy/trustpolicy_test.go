package trustpolicy

import (
	"testing"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
)

func TestEvaluate_BronzeHappyPath(t *testing.T) {
	// minimum level met, trusted CA, valid expiry.
	eval := &Evaluator{
		Policy: &Policy{
			Default:    Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze},
			TrustedCAs: []TrustedCA{{ID: "self"}},
		},
		Now: func() int64 { return 1000 },
	}
	claims := &Claims{Issuer: "self", Level: cgalevel.Bronze, ExpiresAt: 2000}
	result, err := eval.Evaluate(claims, Request{Action: "agent.read"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Trusted {
		t.Fatalf("expected trusted, got %+v", result)
	}
	if result.TrustScore != 0.25 {
		t.Fatalf("expected trust_score 0.25, got %v", result.TrustScore)
	}
}

func TestEvaluate_ActionScopedEscalation(t *testing.T) {
	// an action rule can demand a higher level than the policy default.
	eval := &Evaluator{
		Policy: &Policy{
			Default:    Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze},
			TrustedCAs: []TrustedCA{{ID: "self"}},
			Actions:    []ActionRule{{Pattern: "admin.*", MinimumLevel: cgalevel.Gold}},
		},
		Now: func() int64 { return 1000 },
	}
	claims := &Claims{Issuer: "self", Level: cgalevel.Silver, ExpiresAt: 2000}
	result, err := eval.Evaluate(claims, Request{Action: "admin.users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trusted {
		t.Fatalf("expected untrusted")
	}
	if !contains(result.Reason, "SILVER") || !contains(result.Reason, "GOLD") {
		t.Fatalf("expected reason to mention SILVER and GOLD, got %q", result.Reason)
	}
	if result.Kind != errs.InsufficientLevel {
		t.Fatalf("expected InsufficientLevel kind, got %v", result.Kind)
	}
}

func TestEvaluate_ComplianceGate(t *testing.T) {
	// an action rule can require a compliance attestation the token lacks.
	eval := &Evaluator{
		Policy: &Policy{
			Default:    Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze},
			TrustedCAs: []TrustedCA{{ID: "self"}},
			Actions: []ActionRule{{
				Pattern:           "payments.*",
				MinimumLevel:      cgalevel.Gold,
				RequireCompliance: []string{"SOC2"},
			}},
		},
		Now: func() int64 { return 1000 },
	}
	claims := &Claims{Issuer: "self", Level: cgalevel.Gold, ExpiresAt: 2000, ComplianceFrameworks: []string{}}
	result, err := eval.Evaluate(claims, Request{Action: "payments.charge"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != errs.MissingCompliance {
		t.Fatalf("expected MissingCompliance, got %v (%+v)", result.Kind, result)
	}
}

func TestEvaluate_NoTokenPresentDefersToDefaultRequireCGA(t *testing.T) {
	eval := &Evaluator{Policy: &Policy{Default: Default{RequireCGA: false, MinimumLevel: cgalevel.Bronze}}}
	result, err := eval.Evaluate(nil, Request{Action: "agent.read"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Trusted || result.TrustScore != 0.5 {
		t.Fatalf("expected trusted with score 0.5, got %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", result.Warnings)
	}
}

func TestEvaluate_UntrustedIssuer(t *testing.T) {
	eval := &Evaluator{Policy: &Policy{Default: Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze}}}
	claims := &Claims{Issuer: "rogue-ca", Level: cgalevel.Bronze, ExpiresAt: 99999999999}
	result, err := eval.Evaluate(claims, Request{Action: "agent.read"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trusted {
		t.Fatalf("expected untrusted for unlisted issuer")
	}
}

func TestMatches_GlobPatterns(t *testing.T) {
	cases := []struct {
		pattern, action string
		want            bool
	}{
		{"admin.*", "admin.users", true},
		{"admin.*", "billing.users", false},
		{"get.?ser", "get.user", true},
		{"get.?ser", "get.user2", false},
		{"*", "anything.goes", true},
	}
	for _, c := range cases {
		if got := Matches(c.pattern, c.action); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.action, got, c.want)
		}
	}
}

func TestEvaluate_FirstMatchingRuleWins(t *testing.T) {
	eval := &Evaluator{
		Policy: &Policy{
			Default:    Default{RequireCGA: true, MinimumLevel: cgalevel.Bronze},
			TrustedCAs: []TrustedCA{{ID: "self"}},
			Actions: []ActionRule{
				{Pattern: "admin.*", MinimumLevel: cgalevel.Platinum},
				{Pattern: "admin.users", MinimumLevel: cgalevel.Bronze},
			},
		},
		Now: func() int64 { return 1000 },
	}
	claims := &Claims{Issuer: "self", Level: cgalevel.Bronze, ExpiresAt: 2000}
	result, err := eval.Evaluate(claims, Request{Action: "admin.users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trusted {
		t.Fatalf("expected the first matching rule (requiring PLATINUM) to apply")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoadPolicy_ParsesYAMLDocument(t *testing.T) {
	doc := []byte(`
apiVersion: aigos.io/v1
kind: A2ATrustPolicy
metadata:
  name: default
spec:
  default:
    require_cga: true
    minimum_level: SILVER
  trusted_cas:
    - id: aigos-root-ca
      trust_level: root
  actions:
    - pattern: "admin.*"
      minimum_level: PLATINUM
  health:
    min_uptime_30d: 99.5
    max_violations_30d: 2
    max_health_check_age_hours: 24
`)
	parsed, err := LoadPolicy(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Kind != "A2ATrustPolicy" || parsed.Metadata.Name != "default" {
		t.Fatalf("unexpected document envelope: %+v", parsed)
	}
	policy := parsed.Spec
	if !policy.Default.RequireCGA || policy.Default.MinimumLevel != cgalevel.Silver {
		t.Fatalf("unexpected default: %+v", policy.Default)
	}
	if len(policy.TrustedCAs) != 1 || policy.TrustedCAs[0].ID != "aigos-root-ca" {
		t.Fatalf("unexpected trusted cas: %+v", policy.TrustedCAs)
	}
	if len(policy.Actions) != 1 || policy.Actions[0].MinimumLevel != cgalevel.Platinum {
		t.Fatalf("unexpected actions: %+v", policy.Actions)
	}
	if policy.Health == nil || policy.Health.MaxViolations30d != 2 {
		t.Fatalf("unexpected health floor: %+v", policy.Health)
	}
}

func TestLoadPolicy_RejectsWrongKind(t *testing.T) {
	if _, err := LoadPolicy([]byte("kind: SomethingElse\n")); !errs.Is(err, errs.SchemaViolation) {
		t.Fatalf("expected SchemaViolation, got %v", err)
	}
}

func TestDumpPolicy_RoundTrips(t *testing.T) {
	original := &Document{
		APIVersion: "aigos.io/v1",
		Kind:       "A2ATrustPolicy",
		Metadata:   Metadata{Name: "default"},
		Spec: Policy{
			Default:    Default{RequireCGA: true, MinimumLevel: cgalevel.Gold},
			TrustedCAs: []TrustedCA{{ID: "self"}},
		},
	}
	out, err := DumpPolicy(original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded, err := LoadPolicy(out)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	if reloaded.Spec.Default.MinimumLevel != cgalevel.Gold || len(reloaded.Spec.TrustedCAs) != 1 {
		t.Fatalf("round trip mismatch: %+v", reloaded)
	}
}
