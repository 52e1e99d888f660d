// Package capability implements the capability-decay enforcer: validating
// a child spawn request against its parent's capability set and applying
// one of three decay modes so a spawn tree can never escalate privilege or
// budget.
package capability

import (
	"strings"

	"github.com/aigos/cga-engine/pkg/risklevel"
)

// Mode is one of the three capability-propagation modes.
type Mode string

const (
	Inherit Mode = "inherit"
	Explicit Mode = "explicit"
	Decay   Mode = "decay"
)

// Budgets are the numeric spend limits a capability set carries. A zero
// value for a field means "not set" (⊥); callers that need "set to
// exactly zero" pass a tiny positive epsilon or omit the field and rely on
// decay/explicit default-to-zero behavior.
type Budgets struct {
	MaxCostPerSession float64
	MaxCostPerDay     float64
	MaxCostPerMonth   float64
	MaxTokensPerCall  float64
}

// DecayRules configures the "decay" mode's per-field multipliers and tool
// removal list. Callers replace the whole record, never mutate in place.
type DecayRules struct {
	RemoveFromChildren []string
	BudgetDecay        BudgetDecayFactors
}

// BudgetDecayFactors are the per-field multipliers decay mode applies.
// Zero fields fall back to the package defaults (session/day/month 0.5,
// tokens-per-call 0.75).
type BudgetDecayFactors struct {
	Session        float64
	Day            float64
	Month          float64
	TokensPerCall  float64
}

func (f BudgetDecayFactors) session() float64 {
	if f.Session == 0 {
		return 0.5
	}
	return f.Session
}

func (f BudgetDecayFactors) day() float64 {
	if f.Day == 0 {
		return 0.5
	}
	return f.Day
}

func (f BudgetDecayFactors) month() float64 {
	if f.Month == 0 {
		return 0.5
	}
	return f.Month
}

func (f BudgetDecayFactors) tokensPerCall() float64 {
	if f.TokensPerCall == 0 {
		return 0.75
	}
	return f.TokensPerCall
}

// Capabilities is a parent or child's capability set.
type Capabilities struct {
	Tools           []string
	AllowedDomains  []string
	DeniedDomains   []string
	Budgets         Budgets
	RiskLevel       risklevel.Level
	MaxChildDepth   int
	GenerationDepth int
	MayChildSpawn   bool
}

// SpawnRequest is what a parent asks to grant a child.
type SpawnRequest struct {
	Tools          []string
	AllowedDomains []string
	Budgets        Budgets
	RiskLevel      risklevel.Level
}

// Violation is one validation failure.
type Violation string

const (
	DepthExceeded       Violation = "DEPTH_EXCEEDED"
	PrivilegeEscalation Violation = "PRIVILEGE_ESCALATION"
	BudgetEscalation    Violation = "BUDGET_ESCALATION"
)

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid      bool
	Violations []Violation
	Adjusted   *Capabilities
}

// Enforcer validates spawn requests and applies decay. GlobalMaxDepth and
// GlobalDeniedTools are process-wide policy independent of any single
// parent's record.
type Enforcer struct {
	GlobalMaxDepth    int
	GlobalDeniedTools []string
	Rules             DecayRules
}

func (e *Enforcer) globalMaxDepth() int {
	if e.GlobalMaxDepth == 0 {
		return 1 << 30
	}
	return e.GlobalMaxDepth
}

// Validate checks a spawn request against the parent's capabilities. If
// autoAdjust is true, a policy-correct child is computed and returned as
// Adjusted even when violations are present; otherwise any violation fails
// the request with Adjusted left nil.
func (e *Enforcer) Validate(parent Capabilities, req SpawnRequest, autoAdjust bool) *ValidationResult {
	var violations []Violation

	effectiveMaxDepth := parent.MaxChildDepth
	if e.globalMaxDepth() < effectiveMaxDepth || effectiveMaxDepth == 0 {
		effectiveMaxDepth = e.globalMaxDepth()
	}
	if parent.GenerationDepth >= effectiveMaxDepth || !parent.MayChildSpawn {
		violations = append(violations, DepthExceeded)
	}

	if !coveredByTools(parent.Tools, req.Tools) || e.anyDenied(req.Tools) {
		violations = append(violations, PrivilegeEscalation)
	} else {
		for _, d := range req.AllowedDomains {
			if !domainCovered(d, parent.AllowedDomains) {
				violations = append(violations, PrivilegeEscalation)
				break
			}
		}
	}
	if req.RiskLevel.Valid() && parent.RiskLevel.Valid() && req.RiskLevel.Ord() > parent.RiskLevel.Ord() {
		if !containsViolation(violations, PrivilegeEscalation) {
			violations = append(violations, PrivilegeEscalation)
		}
	}

	if budgetEscalates(parent.Budgets, req.Budgets) {
		violations = append(violations, BudgetEscalation)
	}

	result := &ValidationResult{Valid: len(violations) == 0, Violations: violations}
	if len(violations) == 0 {
		return result
	}
	if !autoAdjust {
		return result
	}

	adjusted := e.ApplyDecay(parent, Decay, nil)
	result.Adjusted = &adjusted
	return result
}

func containsViolation(vs []Violation, v Violation) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// ApplyDecay computes a child capability set under mode. explicit is only
// consulted when mode == Explicit.
func (e *Enforcer) ApplyDecay(parent Capabilities, mode Mode, explicit *SpawnRequest) Capabilities {
	switch mode {
	case Inherit:
		child := parent
		child.GenerationDepth = parent.GenerationDepth + 1
		if child.GenerationDepth >= effectiveDepthCap(parent, e.globalMaxDepth()) {
			child.MayChildSpawn = false
		}
		return child
	case Explicit:
		child := Capabilities{
			GenerationDepth: parent.GenerationDepth + 1,
			MaxChildDepth:   parent.MaxChildDepth,
			RiskLevel:       parent.RiskLevel,
			DeniedDomains:   parent.DeniedDomains,
			MayChildSpawn:   false,
		}
		if explicit != nil {
			child.Tools = intersect(parent.Tools, explicit.Tools)
			child.AllowedDomains = coveredIntersect(parent.AllowedDomains, explicit.AllowedDomains)
			child.Budgets = minBudgets(parent.Budgets, explicit.Budgets)
			if explicit.RiskLevel.Valid() {
				child.RiskLevel = explicit.RiskLevel
			}
		}
		return child
	default: // Decay
		child := Capabilities{
			Tools:           removeTools(parent.Tools, e.Rules.RemoveFromChildren),
			AllowedDomains:  parent.AllowedDomains,
			DeniedDomains:   parent.DeniedDomains,
			RiskLevel:       parent.RiskLevel,
			MaxChildDepth:   parent.MaxChildDepth,
			GenerationDepth: parent.GenerationDepth + 1,
			Budgets: Budgets{
				MaxCostPerSession: parent.Budgets.MaxCostPerSession * e.Rules.BudgetDecay.session(),
				MaxCostPerDay:     parent.Budgets.MaxCostPerDay * e.Rules.BudgetDecay.day(),
				MaxCostPerMonth:   parent.Budgets.MaxCostPerMonth * e.Rules.BudgetDecay.month(),
				MaxTokensPerCall:  parent.Budgets.MaxTokensPerCall * e.Rules.BudgetDecay.tokensPerCall(),
			},
		}
		child.MayChildSpawn = child.GenerationDepth < effectiveDepthCap(parent, e.globalMaxDepth())
		return child
	}
}

func effectiveDepthCap(parent Capabilities, globalMax int) int {
	if parent.MaxChildDepth == 0 || globalMax < parent.MaxChildDepth {
		return globalMax
	}
	return parent.MaxChildDepth
}

func (e *Enforcer) anyDenied(tools []string) bool {
	for _, t := range tools {
		for _, d := range e.GlobalDeniedTools {
			if t == d {
				return true
			}
		}
	}
	return false
}

// coveredByTools reports whether every requested tool is present in the
// parent's tool set, or the parent holds the "*" wildcard.
func coveredByTools(parentTools, requested []string) bool {
	for _, p := range parentTools {
		if p == "*" {
			return true
		}
	}
	set := make(map[string]bool, len(parentTools))
	for _, p := range parentTools {
		set[p] = true
	}
	for _, r := range requested {
		if !set[r] {
			return false
		}
	}
	return true
}

// domainCovered implements the domain-coverage rule: a domain d is
// covered by pattern set P iff "*" in P, d in P, some "*.suffix" in P
// where d ends in .suffix or equals suffix, or d is itself a wildcard
// present in P (or P has "*").
func domainCovered(d string, patterns []string) bool {
	for _, p := range patterns {
		if p == "*" || p == d {
			return true
		}
		if strings.HasPrefix(p, "*.") {
			suffix := strings.TrimPrefix(p, "*.")
			if d == suffix || strings.HasSuffix(d, "."+suffix) {
				return true
			}
		}
		if strings.HasPrefix(d, "*.") && d == p {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// coveredIntersect returns the subset of requested domains that the
// parent's allowed-domain patterns cover (explicit mode's subset
// invariant on allowed_domains).
func coveredIntersect(parentAllowed, requested []string) []string {
	var out []string
	for _, d := range requested {
		if domainCovered(d, parentAllowed) {
			out = append(out, d)
		}
	}
	return out
}

func removeTools(tools, remove []string) []string {
	deny := make(map[string]bool, len(remove))
	for _, r := range remove {
		deny[r] = true
	}
	var out []string
	for _, t := range tools {
		if !deny[t] {
			out = append(out, t)
		}
	}
	return out
}

func budgetEscalates(parent, requested Budgets) bool {
	return fieldEscalates(parent.MaxCostPerSession, requested.MaxCostPerSession) ||
		fieldEscalates(parent.MaxCostPerDay, requested.MaxCostPerDay) ||
		fieldEscalates(parent.MaxCostPerMonth, requested.MaxCostPerMonth) ||
		fieldEscalates(parent.MaxTokensPerCall, requested.MaxTokensPerCall)
}

// fieldEscalates reports whether requested exceeds parent, where a
// parent value of 0 means unset (⊥) and imposes no ceiling.
func fieldEscalates(parent, requested float64) bool {
	if parent == 0 {
		return false
	}
	return requested > parent
}

func minBudgets(a, b Budgets) Budgets {
	return Budgets{
		MaxCostPerSession: minNonZero(a.MaxCostPerSession, b.MaxCostPerSession),
		MaxCostPerDay:     minNonZero(a.MaxCostPerDay, b.MaxCostPerDay),
		MaxCostPerMonth:   minNonZero(a.MaxCostPerMonth, b.MaxCostPerMonth),
		MaxTokensPerCall:  minNonZero(a.MaxTokensPerCall, b.MaxTokensPerCall),
	}
}

func minNonZero(a, b float64) float64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
