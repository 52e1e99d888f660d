// Package middleware implements the agent-to-agent request pipeline: a
// framework-neutral core that extracts a token and action from an inbound
// request, verifies and evaluates it, and produces a Success or Failure
// outcome. A thin net/http adapter lives in http.go.
package middleware

import (
	"strings"
	"time"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
	"github.com/aigos/cga-engine/pkg/token"
	"github.com/aigos/cga-engine/pkg/trustpolicy"
)

func parseRFC3339Unix(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errs.New(errs.BadTimestamp, "invalid cga.expires_at: %v", err)
	}
	return t.Unix(), nil
}

// DefaultTokenHeader is the header the middleware reads the token from
// unless configured otherwise.
const DefaultTokenHeader = "X-AIGOS-Token"

// RequestMeta is the framework-neutral view of an inbound request the
// pipeline needs: header lookup plus the fields the default action
// extractor uses.
type RequestMeta struct {
	Headers            map[string]string
	Method             string
	Path               string
	SourceOrganization string
}

// Header looks up a header case-insensitively.
func (r RequestMeta) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Code is a machine-readable failure code.
type Code string

const (
	MissingToken       Code = "MISSING_TOKEN"
	InvalidToken       Code = "INVALID_TOKEN"
	TokenExpiredCode   Code = "TOKEN_EXPIRED"
	CertificateExpired Code = "CERTIFICATE_EXPIRED"
	CertificateRevoked Code = "CERTIFICATE_REVOKED"
	UntrustedIssuer    Code = "UNTRUSTED_ISSUER"
	InsufficientLevel  Code = "INSUFFICIENT_LEVEL"
	MissingCompliance  Code = "MISSING_COMPLIANCE"
	PolicyViolation    Code = "POLICY_VIOLATION"
	HealthCheckFailed  Code = "HEALTH_CHECK_FAILED"
)

var codeStatus = map[Code]int{
	MissingToken:       401,
	InvalidToken:       401,
	TokenExpiredCode:   401,
	CertificateExpired: 401,
	CertificateRevoked: 401,
	UntrustedIssuer:    403,
	InsufficientLevel:  403,
	MissingCompliance:  403,
	PolicyViolation:    403,
	HealthCheckFailed:  403,
}

// Failure is the middleware's negative outcome.
type Failure struct {
	Code       Code
	Message    string
	StatusCode int
	Details    map[string]any
}

// Success is the middleware's positive outcome.
type Success struct {
	Claims      *token.VerifyResult
	TrustResult *trustpolicy.Result
}

// Outcome is exactly one of Success or Failure.
type Outcome struct {
	Success *Success
	Failure *Failure
}

// ActionExtractor derives the policy action string for a request.
// Default: "<method>.<path-dot-separated>".
type ActionExtractor func(req RequestMeta) string

// DefaultActionExtractor implements the default method/path-to-action rule.
func DefaultActionExtractor(req RequestMeta) string {
	path := strings.Trim(req.Path, "/")
	path = strings.ReplaceAll(path, "/", ".")
	method := strings.ToLower(req.Method)
	if path == "" {
		return method
	}
	return method + "." + path
}

// ClaimsAdapter converts a verified token's raw claims into the
// evaluator's Claims shape, isolating pkg/trustpolicy from the JWT
// library's map representation.
type ClaimsAdapter func(result *token.VerifyResult) (*trustpolicy.Claims, error)

// Pipeline is the framework-neutral verification pipeline. It holds only
// immutable collaborators so a single instance is safe for concurrent use.
type Pipeline struct {
	TokenHeader     string
	Verifier        *token.Verifier
	Evaluator       *trustpolicy.Evaluator
	ExtractAction   ActionExtractor
	AdaptClaims     ClaimsAdapter
}

func (p *Pipeline) tokenHeader() string {
	if p.TokenHeader == "" {
		return DefaultTokenHeader
	}
	return p.TokenHeader
}

func (p *Pipeline) extractAction(req RequestMeta) string {
	if p.ExtractAction != nil {
		return p.ExtractAction(req)
	}
	return DefaultActionExtractor(req)
}

// Handle runs the full pipeline: extract token -> extract action -> verify
// -> evaluate -> outcome.
func (p *Pipeline) Handle(req RequestMeta) Outcome {
	raw := req.Header(p.tokenHeader())
	action := p.extractAction(req)

	var verifyResult *token.VerifyResult
	var claims *trustpolicy.Claims

	if raw != "" {
		var err error
		verifyResult, err = p.Verifier.Verify(raw)
		if err != nil {
			return Outcome{Failure: tokenFailure(err)}
		}
		if p.AdaptClaims != nil {
			claims, err = p.AdaptClaims(verifyResult)
		} else {
			claims, err = defaultAdaptClaims(verifyResult)
		}
		if err != nil {
			return Outcome{Failure: &Failure{Code: InvalidToken, Message: err.Error(), StatusCode: codeStatus[InvalidToken]}}
		}
	}

	// claims is nil here when no token was presented; Evaluate's own
	// CGA-required check decides whether that is acceptable.
	trustResult, err := p.Evaluator.Evaluate(claims, trustpolicy.Request{Action: action, SourceOrganization: req.SourceOrganization})
	if err != nil {
		return Outcome{Failure: &Failure{Code: InvalidToken, Message: err.Error(), StatusCode: 503}}
	}
	if !trustResult.Trusted {
		return Outcome{Failure: trustFailure(trustResult)}
	}

	return Outcome{Success: &Success{Claims: verifyResult, TrustResult: trustResult}}
}

func tokenFailure(err error) *Failure {
	kind := errs.Kind("")
	if e, ok := err.(*errs.Error); ok {
		kind = e.Kind
	}
	code := InvalidToken
	switch kind {
	case errs.TokenExpired:
		code = TokenExpiredCode
	case errs.CertificateExpired:
		code = CertificateExpired
	case errs.CertificateRevoked:
		code = CertificateRevoked
	case errs.UntrustedIssuer:
		code = UntrustedIssuer
	}
	return &Failure{Code: code, Message: err.Error(), StatusCode: codeStatus[code]}
}

func trustFailure(result *trustpolicy.Result) *Failure {
	code := InsufficientLevel
	switch result.Kind {
	case errs.MissingCompliance:
		code = MissingCompliance
	case errs.PolicyViolation:
		code = PolicyViolation
	case errs.CertificateExpired:
		code = CertificateExpired
	case errs.InsufficientLevel, "":
		code = InsufficientLevel
	}
	if result.Reason == "CGA attestation required but not present" || strings.HasPrefix(result.Reason, "Untrusted CA") {
		code = UntrustedIssuer
		if result.Reason == "CGA attestation required but not present" {
			code = MissingToken
		}
	}
	return &Failure{Code: code, Message: result.Reason, StatusCode: codeStatus[code]}
}

func defaultAdaptClaims(result *token.VerifyResult) (*trustpolicy.Claims, error) {
	cga, ok := result.Claims["cga"].(map[string]any)
	if !ok {
		return nil, errs.New(errs.SchemaViolation, "claims.cga is not an object")
	}
	issuer, _ := cga["issuer"].(string)
	level, _ := cga["level"].(string)
	expiresAtStr, _ := cga["expires_at"].(string)
	expiresAt, err := parseRFC3339Unix(expiresAtStr)
	if err != nil {
		return nil, err
	}

	claims := &trustpolicy.Claims{
		Issuer:    issuer,
		Level:     cgalevel.Level(level),
		ExpiresAt: expiresAt,
	}
	if raw, ok := cga["compliance_frameworks"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				claims.ComplianceFrameworks = append(claims.ComplianceFrameworks, s)
			}
		}
	}
	if health, ok := cga["operational_health"].(map[string]any); ok {
		uptime, _ := health["uptime_30d"].(float64)
		violations, _ := health["violations_30d"].(float64)
		claims.OperationalHealth = &trustpolicy.OperationalHealth{
			Uptime30d:     uptime,
			Violations30d: int(violations),
		}
	}
	return claims, nil
}
