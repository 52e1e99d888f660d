// Package certificate implements the certificate generator and schema:
// turning a verification report into a full CGA certificate plus a
// compact, token-embeddable projection, signed with ES256 via pkg/signing.
//
// LoadFull/DumpFull's JSON/YAML duality uses gopkg.in/yaml.v3, since
// certificates are meant to be authored and read as files, not just
// exchanged as wire JSON.
package certificate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
	"github.com/aigos/cga-engine/pkg/signing"
	"github.com/aigos/cga-engine/pkg/verification"
)

// AttestationStatus is the outcome of translating a check result into a
// certificate attestation.
type AttestationStatus string

const (
	Verified      AttestationStatus = "VERIFIED"
	NotVerified   AttestationStatus = "NOT_VERIFIED"
	NotApplicable AttestationStatus = "NOT_APPLICABLE"
)

// Attestation is one governance area's certified status.
type Attestation struct {
	Status     AttestationStatus `json:"status" yaml:"status"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty" yaml:"verified_at,omitempty"`
}

// GoldenThreadRef embeds the hash/algorithm pair the certificate binds to.
type GoldenThreadRef struct {
	Hash      string `json:"hash" yaml:"hash"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// AgentSpec identifies the certified agent.
type AgentSpec struct {
	ID           string          `json:"id" yaml:"id"`
	Version      string          `json:"version" yaml:"version"`
	Organization string          `json:"organization" yaml:"organization"`
	GoldenThread GoldenThreadRef `json:"golden_thread" yaml:"golden_thread"`
}

// Issuer identifies who issued the certificate: "self" for BRONZE,
// otherwise a CA id/name pair from a CAResolver.
type Issuer struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Renewal describes the certificate's auto-renewal policy.
type Renewal struct {
	AutoRenew       bool `json:"auto_renew" yaml:"auto_renew"`
	GracePeriodDays int  `json:"grace_period_days" yaml:"grace_period_days"`
}

// Certification carries level, issuer, and validity window.
type Certification struct {
	Level     cgalevel.Level `json:"level" yaml:"level"`
	Issuer    Issuer         `json:"issuer" yaml:"issuer"`
	IssuedAt  time.Time      `json:"issued_at" yaml:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at" yaml:"expires_at"`
	Renewal   Renewal        `json:"renewal" yaml:"renewal"`
}

// Governance is the five governance-area attestations.
type Governance struct {
	KillSwitch       Attestation `json:"kill_switch" yaml:"kill_switch"`
	PolicyEngine     Attestation `json:"policy_engine" yaml:"policy_engine"`
	GoldenThread     Attestation `json:"golden_thread" yaml:"golden_thread"`
	CapabilityBounds Attestation `json:"capability_bounds" yaml:"capability_bounds"`
	Telemetry        Attestation `json:"telemetry" yaml:"telemetry"`
}

// Compliance is the optional compliance section.
type Compliance struct {
	Frameworks []string `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
}

// Operational is the optional operational-health section.
type Operational struct {
	Uptime30d      float64 `json:"uptime_30d,omitempty" yaml:"uptime_30d,omitempty"`
	Violations30d  int     `json:"violations_30d,omitempty" yaml:"violations_30d,omitempty"`
	LastHealthTime string  `json:"last_health_check,omitempty" yaml:"last_health_check,omitempty"`
}

// Signature is the detached signature over the deterministic serialization.
type Signature struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	KeyID     string `json:"key_id" yaml:"key_id"`
	Value     string `json:"value" yaml:"value"`
}

// Metadata carries the certificate's own identity, separate from the
// agent's.
type Metadata struct {
	ID            string `json:"id" yaml:"id"`
	Version       string `json:"version" yaml:"version"`
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`
}

// Spec is the full certificate's spec block.
type Spec struct {
	Agent         AgentSpec     `json:"agent" yaml:"agent"`
	Certification Certification `json:"certification" yaml:"certification"`
	Governance    Governance    `json:"governance" yaml:"governance"`
	Compliance    *Compliance   `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Operational   *Operational  `json:"operational,omitempty" yaml:"operational,omitempty"`
}

// Full is the full CGA certificate document. It round-trips as either
// JSON or YAML: LoadFull/DumpFull pick the codec, the struct tags agree on
// field names either way.
type Full struct {
	APIVersion string    `json:"apiVersion" yaml:"apiVersion"`
	Kind       string    `json:"kind" yaml:"kind"`
	Metadata   Metadata  `json:"metadata" yaml:"metadata"`
	Spec       Spec      `json:"spec" yaml:"spec"`
	Signature  Signature `json:"signature" yaml:"signature"`
}

// Compact is the space-optimised projection suitable for token embedding.
type Compact struct {
	APIVersion           string         `json:"apiVersion" yaml:"apiVersion"`
	Kind                 string         `json:"kind" yaml:"kind"`
	ID                   string         `json:"id" yaml:"id"`
	AgentID              string         `json:"agent_id" yaml:"agent_id"`
	Level                cgalevel.Level `json:"level" yaml:"level"`
	IssuerID             string         `json:"issuer_id" yaml:"issuer_id"`
	IssuedAt             time.Time      `json:"issued_at" yaml:"issued_at"`
	ExpiresAt            time.Time      `json:"expires_at" yaml:"expires_at"`
	GoldenThreadHash     string         `json:"golden_thread_hash" yaml:"golden_thread_hash"`
	ComplianceFrameworks []string       `json:"compliance_frameworks,omitempty" yaml:"compliance_frameworks,omitempty"`
	Governance           CompactGov     `json:"gov" yaml:"gov"`
	Signature            Signature      `json:"signature" yaml:"signature"`
}

// CompactGov is the five-boolean governance summary: ks, pe, gt, cb, tm.
// A field is true only for a VERIFIED attestation; NOT_VERIFIED and
// NOT_APPLICABLE both map to false, so a false value does not tell the two
// apart.
type CompactGov struct {
	KS bool `json:"ks" yaml:"ks"`
	PE bool `json:"pe" yaml:"pe"`
	GT bool `json:"gt" yaml:"gt"`
	CB bool `json:"cb" yaml:"cb"`
	TM bool `json:"tm" yaml:"tm"`
}

// CAResolver resolves the issuing CA's identity for SILVER+ certificates.
type CAResolver interface {
	Resolve(level cgalevel.Level) (Issuer, error)
}

// Generator produces and signs certificates from verification reports.
type Generator struct {
	Organization string
	Signer       signing.Signer
	CA           CAResolver
	Clock        func() time.Time
}

func (g *Generator) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// Generate builds, serialises, and signs a full certificate from a
// verification report.
func (g *Generator) Generate(report *verification.Report, agentID, agentVersion, goldenThreadHash string) (*Full, error) {
	if report.AchievedLevel == nil {
		return nil, errs.New(errs.NotCertifiable, "verification report has no achieved level")
	}
	if g.Signer == nil {
		return nil, errs.New(errs.SignerUnavailable, "certificate generator has no configured signer")
	}
	level := *report.AchievedLevel
	props, err := level.Properties()
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	expiresAt := now.Add(time.Duration(props.ValidityDays) * 24 * time.Hour)
	if !expiresAt.After(now) {
		return nil, errs.New(errs.ClockSkew, "computed expires_at %s is not after issued_at %s", expiresAt, now)
	}

	issuer, err := g.resolveIssuer(level)
	if err != nil {
		return nil, err
	}

	cert := &Full{
		APIVersion: "aigos.io/v1",
		Kind:       "CGACertificate",
		Metadata: Metadata{
			ID:            certificateID(agentID, level, now),
			Version:       "1",
			SchemaVersion: "aigos.io/v1",
		},
		Spec: Spec{
			Agent: AgentSpec{
				ID:           agentID,
				Version:      agentVersion,
				Organization: g.Organization,
				GoldenThread: GoldenThreadRef{Hash: goldenThreadHash, Algorithm: "sha256"},
			},
			Certification: Certification{
				Level:     level,
				Issuer:    issuer,
				IssuedAt:  now,
				ExpiresAt: expiresAt,
				Renewal:   Renewal{AutoRenew: false, GracePeriodDays: 7},
			},
			Governance: Governance{
				KillSwitch:       translateAttestation(report.Checks, "kill_switch", now),
				PolicyEngine:     translateAttestation(report.Checks, "policy_engine", now),
				GoldenThread:     translateAttestation(report.Checks, "identity.golden_thread_hash", now),
				CapabilityBounds: translateAttestation(report.Checks, "capability", now),
				Telemetry:        translateAttestation(report.Checks, "telemetry", now),
			},
			Compliance: complianceFromReport(report.Checks),
		},
	}

	sig, err := g.sign(cert)
	if err != nil {
		return nil, err
	}
	cert.Signature = sig
	return cert, nil
}

func (g *Generator) resolveIssuer(level cgalevel.Level) (Issuer, error) {
	if level == cgalevel.Bronze {
		return Issuer{ID: "self", Name: g.Organization}, nil
	}
	if g.CA == nil {
		return Issuer{}, errs.New(errs.CAUnavailable, "level %s requires a CA resolver but none is configured", level)
	}
	return g.CA.Resolve(level)
}

func certificateID(agentID string, level cgalevel.Level, now time.Time) string {
	tail := agentID
	if idx := strings.LastIndex(agentID, ":"); idx != -1 {
		tail = agentID[idx+1:]
	}
	return "cga-" + now.Format("20060102") + "-" + tail + "-" + strings.ToLower(string(level))
}

// translateAttestation inspects the report's checks for any whose name
// starts with prefix. If none are present, the area was not applicable at
// the achieved level. If present and all passed, VERIFIED; otherwise
// NOT_VERIFIED.
func translateAttestation(checks []verification.CheckResult, prefix string, now time.Time) Attestation {
	found := false
	allPassed := true
	for _, c := range checks {
		if !strings.HasPrefix(c.Name, prefix) {
			continue
		}
		found = true
		if c.Status != verification.Pass {
			allPassed = false
		}
	}
	if !found {
		return Attestation{Status: NotApplicable}
	}
	if allPassed {
		verifiedAt := now
		return Attestation{Status: Verified, VerifiedAt: &verifiedAt}
	}
	return Attestation{Status: NotVerified}
}

func complianceFromReport(checks []verification.CheckResult) *Compliance {
	for _, c := range checks {
		if c.Name != "compliance.framework_mapped" || c.Status != verification.Pass {
			continue
		}
		raw, ok := c.Evidence["frameworks"].([]any)
		if !ok {
			continue
		}
		frameworks := make([]string, 0, len(raw))
		for _, f := range raw {
			frameworks = append(frameworks, toString(f))
		}
		return &Compliance{Frameworks: frameworks}
	}
	return nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// sign produces a detached ES256 signature over the certificate's
// deterministic serialisation (sorted keys, no whitespace).
func (g *Generator) sign(cert *Full) (Signature, error) {
	payload, err := canonicalJSON(cert)
	if err != nil {
		return Signature{}, err
	}
	sig, err := g.Signer.Sign(payload)
	if err != nil {
		return Signature{}, errs.New(errs.SignerUnavailable, "sign certificate: %v", err)
	}
	return Signature{
		Algorithm: string(g.Signer.Algorithm()),
		KeyID:     g.Signer.KeyID(),
		Value:     base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// canonicalJSON marshals v, then round-trips it through a generic map so
// encoding/json's alphabetical map-key ordering produces sorted-key,
// whitespace-free JSON at every nesting level.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "marshal for canonicalization: %v", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errs.New(errs.BadFormat, "round-trip for canonicalization: %v", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "re-marshal for canonicalization: %v", err)
	}
	return canonical, nil
}

// ToCompact projects a full certificate into its token-embeddable form.
// The compact signature is produced independently over the compact
// document, not copied from the full certificate's.
func ToCompact(full *Full, signer signing.Signer) (*Compact, error) {
	compact := &Compact{
		APIVersion:           full.APIVersion,
		Kind:                 "CGACertificateCompact",
		ID:                   full.Metadata.ID,
		AgentID:              full.Spec.Agent.ID,
		Level:                full.Spec.Certification.Level,
		IssuerID:             full.Spec.Certification.Issuer.ID,
		IssuedAt:             full.Spec.Certification.IssuedAt,
		ExpiresAt:            full.Spec.Certification.ExpiresAt,
		GoldenThreadHash:     full.Spec.Agent.GoldenThread.Hash,
		ComplianceFrameworks: complianceTags(full.Spec.Compliance),
		Governance: CompactGov{
			KS: full.Spec.Governance.KillSwitch.Status == Verified,
			PE: full.Spec.Governance.PolicyEngine.Status == Verified,
			GT: full.Spec.Governance.GoldenThread.Status == Verified,
			CB: full.Spec.Governance.CapabilityBounds.Status == Verified,
			TM: full.Spec.Governance.Telemetry.Status == Verified,
		},
	}

	if signer == nil {
		return nil, errs.New(errs.SignerUnavailable, "no signer configured for compact certificate")
	}
	payload, err := canonicalJSON(compact)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, errs.New(errs.SignerUnavailable, "sign compact certificate: %v", err)
	}
	compact.Signature = Signature{
		Algorithm: string(signer.Algorithm()),
		KeyID:     signer.KeyID(),
		Value:     base64.StdEncoding.EncodeToString(sig),
	}
	return compact, nil
}

func complianceTags(c *Compliance) []string {
	if c == nil {
		return nil
	}
	return c.Frameworks
}

// Fingerprint returns a stable sha256 hex digest of a certificate's
// canonical serialization, useful for cache keys and audit logs.
func Fingerprint(full *Full) (string, error) {
	payload, err := canonicalJSON(full)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// LoadFull decodes a certificate document as YAML or JSON. Operators hand
// these out as files, and YAML is the friendlier format for anything
// meant to be read and edited by a person, so both are accepted without
// the caller needing to know which one it's holding.
func LoadFull(data []byte) (*Full, error) {
	var full Full
	if err := yaml.Unmarshal(data, &full); err != nil {
		return nil, errs.New(errs.BadFormat, "decode certificate document: %v", err)
	}
	if full.APIVersion == "" || full.Kind == "" {
		return nil, errs.New(errs.BadFormat, "certificate document is missing apiVersion/kind")
	}
	return &full, nil
}

// DumpFull renders a certificate document as YAML, the operator-facing
// default, or as compact JSON when asYAML is false (e.g. for an HTTP
// response body or token embedding).
func DumpFull(full *Full, asYAML bool) ([]byte, error) {
	if asYAML {
		out, err := yaml.Marshal(full)
		if err != nil {
			return nil, errs.New(errs.BadFormat, "encode certificate document as yaml: %v", err)
		}
		return out, nil
	}
	out, err := json.Marshal(full)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "encode certificate document as json: %v", err)
	}
	return out, nil
}
