// Package trustpolicy implements the trust-policy evaluator: given token
// claims and an inbound action, decide trusted/untrusted, explain why, and
// compute a trust score.
//
// Pattern matching (glob-like * and ?) compiles to regexp.Regexp; regexp
// is stdlib and needs no third-party replacement here.
package trustpolicy

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
)

func nowUnix() int64 { return time.Now().Unix() }

// Claims is the minimal projection of token claims the evaluator needs.
// pkg/token's verified claims are adapted into this shape by callers (see
// pkg/middleware) so the evaluator has no dependency on the JWT library.
type Claims struct {
	Issuer               string
	Level                cgalevel.Level
	ExpiresAt            int64 // unix seconds
	ComplianceFrameworks []string
	OperationalHealth    *OperationalHealth
}

// OperationalHealth mirrors the optional claims.cga.operational_health
// block.
type OperationalHealth struct {
	Uptime30d     float64
	Violations30d int
}

// ActionRule is one pattern-matched action-scoped rule.
type ActionRule struct {
	Pattern           string         `yaml:"pattern"`
	RequireCGA        *bool          `yaml:"require_cga,omitempty"`
	MinimumLevel      cgalevel.Level `yaml:"minimum_level,omitempty"`
	RequireCompliance []string       `yaml:"require_compliance,omitempty"`
	MaxViolations30d  *int           `yaml:"max_violations_30d,omitempty"`
}

// OrgOverride overrides requirements for a specific source organization.
type OrgOverride struct {
	ID           string         `yaml:"id"`
	MinimumLevel cgalevel.Level `yaml:"minimum_level,omitempty"`
	Trusted      bool           `yaml:"trusted"`
}

// TrustedCA is an issuer id permitted to sign certificates this policy
// trusts.
type TrustedCA struct {
	ID         string `yaml:"id"`
	TrustLevel string `yaml:"trust_level,omitempty"`
}

// HealthFloor is the policy's minimum operational-health bar.
type HealthFloor struct {
	MinUptime30d           float64 `yaml:"min_uptime_30d"`
	MaxViolations30d       int     `yaml:"max_violations_30d"`
	MaxHealthCheckAgeHours int     `yaml:"max_health_check_age_hours"`
}

// Default is the policy-wide fallback requirement.
type Default struct {
	RequireCGA   bool           `yaml:"require_cga"`
	MinimumLevel cgalevel.Level `yaml:"minimum_level"`
}

// Policy is the trust policy's rule block.
type Policy struct {
	Default       Default       `yaml:"default"`
	TrustedCAs    []TrustedCA   `yaml:"trusted_cas,omitempty"`
	Actions       []ActionRule  `yaml:"actions,omitempty"`
	Organizations []OrgOverride `yaml:"organizations,omitempty"`
	Health        *HealthFloor  `yaml:"health,omitempty"`
}

// Metadata is the trust policy document's metadata block.
type Metadata struct {
	Name string `yaml:"name"`
}

// Document is the full agent-to-agent trust policy document:
// apiVersion/kind/metadata/spec, authored as YAML on disk since it is
// meant to be hand-edited, not just produced by code.
type Document struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Policy   `yaml:"spec"`
}

// LoadPolicy parses a trust policy document. YAML is the primary authoring
// format; since JSON is a subset of YAML, well-formed JSON policy documents
// decode the same way.
func LoadPolicy(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.New(errs.BadFormat, "decode trust policy document: %v", err)
	}
	if doc.Kind != "" && doc.Kind != "A2ATrustPolicy" {
		return nil, errs.New(errs.SchemaViolation, "unexpected trust policy kind %q", doc.Kind)
	}
	return &doc, nil
}

// DumpPolicy renders a trust policy document back to YAML, e.g. for an
// admin tool that edits a policy and writes it back to disk.
func DumpPolicy(doc *Document) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "encode trust policy document: %v", err)
	}
	return out, nil
}

// Request is the inbound action being evaluated.
type Request struct {
	Action             string
	SourceOrganization string
}

// Result is the outcome of Evaluate.
type Result struct {
	Trusted    bool
	Reason     string
	Warnings   []string
	CGALevel   *cgalevel.Level
	TrustScore float64
	Kind       errs.Kind
}

var levelScore = map[cgalevel.Level]float64{
	cgalevel.Bronze:   0.25,
	cgalevel.Silver:   0.5,
	cgalevel.Gold:     0.75,
	cgalevel.Platinum: 1.0,
}

// patternCache memoizes compiled regexes per pattern string; policy
// documents are loaded once and evaluated many times, so recompiling the
// same pattern on every request would be wasted work.
type patternCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

var globalPatternCache = &patternCache{cache: make(map[string]*regexp.Regexp)}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.cache[pattern]; ok {
		return re, nil
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	c.cache[pattern] = re
	return re, nil
}

// compilePattern translates a glob-like pattern (* -> .*, ? -> .) into an
// anchored regexp.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Matches reports whether action matches the glob-like pattern.
func Matches(pattern, action string) bool {
	re, err := globalPatternCache.compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(action)
}

// Evaluator evaluates requests against an immutable policy snapshot. Now
// is injectable for deterministic tests.
type Evaluator struct {
	Policy *Policy
	Now    func() int64
}

func (e *Evaluator) now() int64 {
	if e.Now != nil {
		return e.Now()
	}
	return nowUnix()
}

// Evaluate runs the ordered decision procedure. claims is nil when no
// token was presented.
func (e *Evaluator) Evaluate(claims *Claims, req Request) (*Result, error) {
	if e.Policy == nil {
		return nil, errs.New(errs.PolicyNotFound, "no trust policy configured")
	}

	rule := e.matchingActionRule(req.Action)

	// Step 1: CGA-required check.
	required := e.Policy.Default.RequireCGA
	if rule != nil && rule.RequireCGA != nil {
		required = *rule.RequireCGA
	}
	if claims == nil {
		if required {
			return &Result{Trusted: false, Reason: "CGA attestation required but not present", TrustScore: 0}, nil
		}
		return &Result{
			Trusted:    true,
			Warnings:   []string{"No CGA attestation present"},
			TrustScore: 0.5,
		}, nil
	}

	// Step 2: trusted issuer.
	if !e.isTrustedIssuer(claims.Issuer) {
		return &Result{Trusted: false, Reason: "Untrusted CA: " + claims.Issuer, TrustScore: 0}, nil
	}

	// Step 3: certificate expiry.
	if claims.ExpiresAt <= e.now() {
		return &Result{Trusted: false, Reason: "Certificate expired", TrustScore: 0, Kind: errs.CertificateExpired}, nil
	}

	// Step 4: level threshold.
	requiredLevel := e.requiredLevel(rule, req.SourceOrganization)
	if claims.Level.Ord() < requiredLevel.Ord() {
		return &Result{
			Trusted:    false,
			Reason:     "CGA level " + string(claims.Level) + " below required " + string(requiredLevel),
			TrustScore: 0,
			Kind:       errs.InsufficientLevel,
		}, nil
	}

	// Step 5: compliance requirements.
	if rule != nil && len(rule.RequireCompliance) > 0 {
		if missing := missingCompliance(rule.RequireCompliance, claims.ComplianceFrameworks); len(missing) > 0 {
			return &Result{
				Trusted:    false,
				Reason:     "Missing compliance: " + strings.Join(missing, ", "),
				TrustScore: 0,
				Kind:       errs.MissingCompliance,
			}, nil
		}
	}

	result := &Result{Trusted: true, CGALevel: &claims.Level}

	// Step 6: health floors.
	if e.Policy.Health != nil && claims.OperationalHealth != nil {
		health := claims.OperationalHealth
		if health.Violations30d > e.Policy.Health.MaxViolations30d {
			return &Result{
				Trusted:    false,
				Reason:     "Policy violation: too many violations in the last 30 days",
				TrustScore: 0,
				Kind:       errs.PolicyViolation,
			}, nil
		}
		if health.Uptime30d < e.Policy.Health.MinUptime30d {
			result.Warnings = append(result.Warnings, "Uptime below policy floor")
		}
	}

	result.TrustScore = trustScore(claims)
	return result, nil
}

func (e *Evaluator) matchingActionRule(action string) *ActionRule {
	for i := range e.Policy.Actions {
		if Matches(e.Policy.Actions[i].Pattern, action) {
			return &e.Policy.Actions[i]
		}
	}
	return nil
}

func (e *Evaluator) isTrustedIssuer(issuer string) bool {
	for _, ca := range e.Policy.TrustedCAs {
		if ca.ID == issuer {
			return true
		}
	}
	return false
}

func (e *Evaluator) requiredLevel(rule *ActionRule, sourceOrg string) cgalevel.Level {
	for _, org := range e.Policy.Organizations {
		if org.ID == sourceOrg && org.MinimumLevel != "" {
			return org.MinimumLevel
		}
	}
	if rule != nil && rule.MinimumLevel != "" {
		return rule.MinimumLevel
	}
	return e.Policy.Default.MinimumLevel
}

func missingCompliance(required, present []string) []string {
	var missing []string
	for _, req := range required {
		found := false
		for _, p := range present {
			if strings.Contains(p, req) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req)
		}
	}
	return missing
}

func trustScore(claims *Claims) float64 {
	score := levelScore[claims.Level]
	if claims.OperationalHealth != nil {
		if claims.OperationalHealth.Violations30d > 0 {
			score -= 0.1
		}
		if claims.OperationalHealth.Uptime30d >= 99.9 {
			score += 0.05
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
