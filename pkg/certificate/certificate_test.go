package certificate

import (
	"testing"
	"time"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
	"github.com/aigos/cga-engine/pkg/signing"
	"github.com/aigos/cga-engine/pkg/verification"
)

type fakeSigner struct{}

func (fakeSigner) Algorithm() signing.Algorithm { return signing.ES256 }
func (fakeSigner) KeyID() string                { return "test-key" }
func (fakeSigner) Sign(payload []byte) ([]byte, error) {
	return append([]byte("sig:"), payload...), nil
}

type fakeCA struct{}

func (fakeCA) Resolve(level cgalevel.Level) (Issuer, error) {
	return Issuer{ID: "ca-1", Name: "Trusted CA"}, nil
}

func bronzeReport() *verification.Report {
	level := cgalevel.Bronze
	return &verification.Report{
		AgentID:       "org:agent-1",
		TargetLevel:   cgalevel.Bronze,
		AchievedLevel: &level,
		Checks: []verification.CheckResult{
			{Name: "identity.asset_card_valid", Status: verification.Pass},
			{Name: "identity.golden_thread_hash", Status: verification.Pass},
			{Name: "kill_switch.endpoint_declared", Status: verification.Pass},
		},
	}
}

func TestGenerate_BronzeIsSelfSigned(t *testing.T) {
	gen := &Generator{Organization: "Acme Corp", Signer: fakeSigner{}}
	cert, err := gen.Generate(bronzeReport(), "org:agent-1", "1.0.0", "sha256:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert.Spec.Certification.Issuer.ID != "self" {
		t.Fatalf("expected self-signed issuer for BRONZE, got %+v", cert.Spec.Certification.Issuer)
	}
	if cert.Spec.Governance.GoldenThread.Status != Verified {
		t.Fatalf("expected golden thread attestation VERIFIED, got %s", cert.Spec.Governance.GoldenThread.Status)
	}
	if cert.Spec.Governance.PolicyEngine.Status != NotApplicable {
		t.Fatalf("expected policy_engine NOT_APPLICABLE at BRONZE, got %s", cert.Spec.Governance.PolicyEngine.Status)
	}
	wantExpiry := cert.Spec.Certification.IssuedAt.Add(30 * 24 * time.Hour)
	if !cert.Spec.Certification.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected 30 day validity, got issued=%v expires=%v", cert.Spec.Certification.IssuedAt, cert.Spec.Certification.ExpiresAt)
	}
	if cert.Signature.Value == "" {
		t.Fatalf("expected a non-empty signature")
	}
}

func TestGenerate_SilverRequiresCAResolver(t *testing.T) {
	level := cgalevel.Silver
	report := bronzeReport()
	report.AchievedLevel = &level

	gen := &Generator{Organization: "Acme Corp", Signer: fakeSigner{}}
	if _, err := gen.Generate(report, "org:agent-1", "1.0.0", "sha256:abc"); !errs.Is(err, errs.CAUnavailable) {
		t.Fatalf("expected CAUnavailable, got %v", err)
	}

	gen.CA = fakeCA{}
	cert, err := gen.Generate(report, "org:agent-1", "1.0.0", "sha256:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert.Spec.Certification.Issuer.ID != "ca-1" {
		t.Fatalf("expected CA-resolved issuer, got %+v", cert.Spec.Certification.Issuer)
	}
}

func TestGenerate_NilAchievedLevelIsNotCertifiable(t *testing.T) {
	report := bronzeReport()
	report.AchievedLevel = nil
	gen := &Generator{Organization: "Acme Corp", Signer: fakeSigner{}}
	if _, err := gen.Generate(report, "org:agent-1", "1.0.0", "sha256:abc"); !errs.Is(err, errs.NotCertifiable) {
		t.Fatalf("expected NotCertifiable, got %v", err)
	}
}

func TestCertificateID_UsesTokenAfterLastColon(t *testing.T) {
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	id := certificateID("org:division:agent-42", cgalevel.Gold, now)
	if id != "cga-20260305-agent-42-gold" {
		t.Fatalf("unexpected certificate id: %s", id)
	}
}

func TestToCompact_MirrorsGovernanceBooleans(t *testing.T) {
	gen := &Generator{Organization: "Acme Corp", Signer: fakeSigner{}}
	cert, err := gen.Generate(bronzeReport(), "org:agent-1", "1.0.0", "sha256:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	compact, err := ToCompact(cert, fakeSigner{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !compact.Governance.GT || !compact.Governance.KS {
		t.Fatalf("expected gt and ks true, got %+v", compact.Governance)
	}
	if compact.Governance.PE {
		t.Fatalf("expected pe false (not applicable at BRONZE)")
	}
	if compact.Signature.Value == "" {
		t.Fatalf("expected compact signature to be populated")
	}
}

func TestLoadFull_RoundTripsYAMLAndJSON(t *testing.T) {
	gen := &Generator{Organization: "Acme Corp", Signer: fakeSigner{}}
	cert, err := gen.Generate(bronzeReport(), "org:agent-1", "1.0.0", "sha256:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	yamlBytes, err := DumpFull(cert, true)
	if err != nil {
		t.Fatalf("unexpected error dumping yaml: %v", err)
	}
	fromYAML, err := LoadFull(yamlBytes)
	if err != nil {
		t.Fatalf("unexpected error loading yaml: %v", err)
	}
	if fromYAML.Metadata.ID != cert.Metadata.ID || fromYAML.Spec.Certification.Level != cert.Spec.Certification.Level {
		t.Fatalf("yaml round trip mismatch: %+v", fromYAML)
	}

	jsonBytes, err := DumpFull(cert, false)
	if err != nil {
		t.Fatalf("unexpected error dumping json: %v", err)
	}
	fromJSON, err := LoadFull(jsonBytes)
	if err != nil {
		t.Fatalf("unexpected error loading json: %v", err)
	}
	if fromJSON.Metadata.ID != cert.Metadata.ID {
		t.Fatalf("json round trip mismatch: %+v", fromJSON)
	}
}

func TestLoadFull_RejectsMissingAPIVersion(t *testing.T) {
	if _, err := LoadFull([]byte("kind: CGACertificate\n")); !errs.Is(err, errs.BadFormat) {
		t.Fatalf("expected BadFormat, got %v", err)
	}
}
