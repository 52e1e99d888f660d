// Package token implements the token minter and parser: a three-part
// ES256 bearer token carrying identity, CGA attestations, and
// AI-governance claims.
//
// Claims are represented as jwt.MapClaims (a plain map[string]interface{})
// rather than a typed struct: encoding/json sorts a map's keys
// alphabetically when marshaling, giving a sorted-key, whitespace-free
// serialization while still building on github.com/golang-jwt/jwt/v5
// instead of hand-rolling base64url JWT framing. The ES256 signing step is
// delegated to pkg/signing's pluggable Signer through a custom
// jwt.SigningMethod, registered in init(); Verifier.Verify checks the
// signature with pkg/signing's ECDSAVerifier directly. No real
// cryptographic operation is ever a placeholder.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aigos/cga-engine/pkg/certificate"
	"github.com/aigos/cga-engine/pkg/errs"
	"github.com/aigos/cga-engine/pkg/risklevel"
	"github.com/aigos/cga-engine/pkg/signing"
)

const algorithm = "ES256"

func init() {
	jwt.RegisterSigningMethod(algorithm, func() jwt.SigningMethod { return pluggableMethod{} })
}

// pluggableMethod adapts pkg/signing's Signer/Verifier into the
// jwt.SigningMethod interface golang-jwt expects, so token construction,
// base64url framing, and claims marshaling all stay inside the real
// library while the cryptographic step is ours to inject.
type pluggableMethod struct{}

func (pluggableMethod) Alg() string { return algorithm }

func (pluggableMethod) Sign(signingString string, key any) ([]byte, error) {
	signer, ok := key.(signing.Signer)
	if !ok {
		return nil, errs.New(errs.SignerUnavailable, "token: sign key is not a signing.Signer")
	}
	return signer.Sign([]byte(signingString))
}

func (pluggableMethod) Verify(signingString string, sig []byte, key any) error {
	vk, ok := key.(verifyKey)
	if !ok {
		return errs.New(errs.InvalidSignature, "token: verify key is not configured correctly")
	}
	return vk.verifier.Verify(vk.keyID, []byte(signingString), sig)
}

type verifyKey struct {
	keyID    string
	verifier signing.Verifier
}

// OperationalHealth is the optional health snapshot embedded in claims.
type OperationalHealth struct {
	Uptime30d       float64 `json:"uptime_30d"`
	Violations30d   int     `json:"violations_30d"`
	LastHealthCheck string  `json:"last_health_check,omitempty"`
}

// MintRequest is the input to Minter.Mint.
type MintRequest struct {
	Certificate      *certificate.Compact
	Audience         []string
	AssetID          string
	GoldenThreadHash string
	RiskLevel        risklevel.Level
	Capabilities     []string
	PolicyVersion    string
	Health           *OperationalHealth
}

// MintResult is the output of Minter.Mint.
type MintResult struct {
	Token     string
	Claims    jwt.MapClaims
	ExpiresAt time.Time
}

// Minter builds and signs tokens. Validity defaults to one hour if unset.
type Minter struct {
	Signer   signing.Signer
	Validity time.Duration
	Clock    func() time.Time
}

func (m *Minter) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func (m *Minter) validity() time.Duration {
	if m.Validity == 0 {
		return time.Hour
	}
	return m.Validity
}

// Mint builds claims from the compact certificate and request inputs,
// signs them, and returns the serialized token.
func (m *Minter) Mint(req MintRequest) (*MintResult, error) {
	if m.Signer == nil {
		return nil, errs.New(errs.SignerUnavailable, "token minter has no configured signer")
	}
	if req.Certificate == nil {
		return nil, errs.New(errs.BadFormat, "mint requires a compact certificate")
	}
	if !req.RiskLevel.Valid() {
		return nil, errs.New(errs.SchemaViolation, "unknown risk level %q", req.RiskLevel)
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.validity())

	cga := map[string]any{
		"certificate_id": req.Certificate.ID,
		"level":          string(req.Certificate.Level),
		"issuer":         req.Certificate.IssuerID,
		"expires_at":     req.Certificate.ExpiresAt.UTC().Format(time.RFC3339),
		"governance_verified": map[string]any{
			"ks": req.Certificate.Governance.KS,
			"pe": req.Certificate.Governance.PE,
			"gt": req.Certificate.Governance.GT,
			"cb": req.Certificate.Governance.CB,
			"tm": req.Certificate.Governance.TM,
		},
		"compliance_frameworks": toAnySlice(req.Certificate.ComplianceFrameworks),
	}
	if req.Health != nil {
		health := map[string]any{
			"uptime_30d":     req.Health.Uptime30d,
			"violations_30d": req.Health.Violations30d,
		}
		if req.Health.LastHealthCheck != "" {
			health["last_health_check"] = req.Health.LastHealthCheck
		}
		cga["operational_health"] = health
	}

	agent := map[string]any{
		"asset_id":           req.AssetID,
		"golden_thread_hash": req.GoldenThreadHash,
		"risk_level":         string(req.RiskLevel),
		"capabilities":       toAnySlice(req.Capabilities),
	}
	if req.PolicyVersion != "" {
		agent["policy_version"] = req.PolicyVersion
	}

	var audience any
	switch len(req.Audience) {
	case 0:
		return nil, errs.New(errs.BadFormat, "mint requires at least one audience")
	case 1:
		audience = req.Audience[0]
	default:
		audience = toAnySlice(req.Audience)
	}

	claims := jwt.MapClaims{
		"iss":   req.Certificate.AgentID,
		"sub":   req.Certificate.AgentID,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
		"jti":   newJTI(now),
		"cga":   cga,
		"agent": agent,
	}

	jwtToken := jwt.NewWithClaims(pluggableMethod{}, claims)
	jwtToken.Header["kid"] = m.Signer.KeyID()

	signed, err := jwtToken.SignedString(m.Signer)
	if err != nil {
		return nil, errs.New(errs.SignerUnavailable, "sign token: %v", err)
	}

	return &MintResult{Token: signed, Claims: claims, ExpiresAt: expiresAt}, nil
}

func newJTI(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return now.UTC().Format("20060102T150405.000000000Z") + "-" + hex.EncodeToString(b[:])
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// CertificateStatus reports the additional state a verification
// discovered about the certificate beyond the primary pass/fail outcome.
type CertificateStatus string

const (
	StatusOK      CertificateStatus = ""
	StatusExpired CertificateStatus = "EXPIRED"
	StatusRevoked CertificateStatus = "REVOKED"
	StatusUnknown CertificateStatus = "UNKNOWN"
)

// RevocationOracle answers whether a certificate has been revoked.
type RevocationOracle interface {
	Check(certificateID string) (RevocationStatus, error)
}

// RevocationStatus is an OCSP-equivalent revocation answer.
type RevocationStatus string

const (
	RevocationGood    RevocationStatus = "GOOD"
	RevocationRevoked RevocationStatus = "REVOKED"
	RevocationUnknown RevocationStatus = "UNKNOWN"
)

// VerifyResult is the outcome of Verifier.Verify.
type VerifyResult struct {
	Claims            jwt.MapClaims
	Warnings          []string
	CertificateStatus CertificateStatus
}

// expiringSoonWindow is the lead time before cga.expires_at at which a
// non-fatal warning is raised.
const expiringSoonWindow = 7 * 24 * time.Hour

// Verifier verifies previously-minted tokens.
type Verifier struct {
	// Resolver maps a kid to the public key used to verify the
	// signature.
	Resolver        signing.KeyResolver
	CheckRevocation bool
	RevocationOracle RevocationOracle
	Clock           func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now()
}

// Extract decodes a token's claims without verifying its signature, for
// inspection only.
func Extract(tokenString string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, errs.New(errs.BadFormat, "extract: malformed token: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errs.New(errs.BadFormat, "extract: unexpected claims type")
	}
	return claims, nil
}

// Verify runs the ordered verification procedure: the first failing step
// wins. Unlike Extract, this checks expiry before signature so an attacker
// cannot force an expensive signature check with a token that is
// trivially already expired.
func (v *Verifier) Verify(tokenString string) (*VerifyResult, error) {
	// Step 1: structural.
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errs.New(errs.BadFormat, "token does not have exactly three dot-separated parts")
	}
	parser := jwt.NewParser()
	parsedToken, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, errs.New(errs.BadFormat, "malformed token: %v", err)
	}
	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errs.New(errs.BadFormat, "unexpected claims type")
	}
	if err := validateSchema(claims); err != nil {
		return nil, err
	}

	now := v.now().UTC()

	// Step 2: exp > now, no leeway.
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errs.New(errs.BadFormat, "token has no valid exp claim")
	}
	if !exp.Time.After(now) {
		return nil, errs.New(errs.TokenExpired, "token expired at %s", exp.Time)
	}

	result := &VerifyResult{Claims: claims}

	// Step 3 & 4: cga.expires_at.
	cga, _ := claims["cga"].(map[string]any)
	cgaExpiresAt, err := time.Parse(time.RFC3339, asString(cga["expires_at"]))
	if err != nil {
		return nil, errs.New(errs.BadFormat, "cga.expires_at is not a valid timestamp: %v", err)
	}
	if !cgaExpiresAt.After(now) {
		result.CertificateStatus = StatusExpired
		return nil, errs.New(errs.CertificateExpired, "certificate expired at %s", cgaExpiresAt)
	}
	if cgaExpiresAt.Sub(now) < expiringSoonWindow {
		result.Warnings = append(result.Warnings, "certificate expires within 7 days")
	}

	// Step 5: signature.
	kid, _ := parsedToken.Header["kid"].(string)
	if kid == "" {
		return nil, errs.New(errs.InvalidSignature, "token header has no kid")
	}
	if v.Resolver == nil {
		return nil, errs.New(errs.SignerUnavailable, "token verifier has no key resolver configured")
	}
	pubKey, err := v.Resolver.Resolve(kid)
	if err != nil {
		return nil, errs.New(errs.UntrustedIssuer, "resolve key for kid %q: %v", kid, err)
	}
	verifier := signing.NewECDSAVerifier(signing.StaticResolver{kid: pubKey})
	signingInput := parts[0] + "." + parts[1]
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errs.New(errs.BadFormat, "malformed signature segment: %v", err)
	}
	if err := verifier.Verify(kid, []byte(signingInput), sigBytes); err != nil {
		return nil, errs.New(errs.InvalidSignature, "signature verification failed: %v", err)
	}

	// Step 6: optional revocation.
	if v.CheckRevocation && v.RevocationOracle != nil {
		certID := asString(cga["certificate_id"])
		status, err := v.RevocationOracle.Check(certID)
		if err != nil {
			return nil, errs.New(errs.CAUnavailable, "revocation check: %v", err)
		}
		switch status {
		case RevocationRevoked:
			result.CertificateStatus = StatusRevoked
			return nil, errs.New(errs.CertificateRevoked, "certificate %s is revoked", certID)
		case RevocationUnknown:
			result.CertificateStatus = StatusUnknown
			result.Warnings = append(result.Warnings, "revocation status unknown")
		}
	}

	return result, nil
}

func validateSchema(claims jwt.MapClaims) error {
	for _, field := range []string{"iss", "sub", "aud", "exp", "iat", "jti", "cga", "agent"} {
		if _, ok := claims[field]; !ok {
			return errs.New(errs.SchemaViolation, "claims missing required field %q", field)
		}
	}
	cga, ok := claims["cga"].(map[string]any)
	if !ok {
		return errs.New(errs.SchemaViolation, "claims.cga is not an object")
	}
	for _, field := range []string{"certificate_id", "level", "issuer", "expires_at"} {
		if _, ok := cga[field]; !ok {
			return errs.New(errs.SchemaViolation, "claims.cga missing required field %q", field)
		}
	}
	agent, ok := claims["agent"].(map[string]any)
	if !ok {
		return errs.New(errs.SchemaViolation, "claims.agent is not an object")
	}
	for _, field := range []string{"asset_id", "golden_thread_hash", "risk_level"} {
		if _, ok := agent[field]; !ok {
			return errs.New(errs.SchemaViolation, "claims.agent missing required field %q", field)
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
