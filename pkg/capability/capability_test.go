package capability

import (
	"testing"

	"github.com/aigos/cga-engine/pkg/risklevel"
)

func TestValidate_DecayAutoAdjust(t *testing.T) {
	// auto-adjust should tighten a budget that decay alone would leave inconsistent.
	parent := Capabilities{
		Tools:           []string{"web_search", "database_read", "send_email"},
		Budgets:         Budgets{MaxCostPerSession: 100},
		MaxChildDepth:   3,
		GenerationDepth: 0,
		MayChildSpawn:   true,
		RiskLevel:       risklevel.Limited,
	}
	enforcer := &Enforcer{
		Rules: DecayRules{
			RemoveFromChildren: []string{"send_email"},
			BudgetDecay:        BudgetDecayFactors{Session: 0.5},
		},
	}
	req := SpawnRequest{
		Tools:     []string{"send_email"},
		Budgets:   Budgets{MaxCostPerSession: 200},
		RiskLevel: risklevel.Limited,
	}

	result := enforcer.Validate(parent, req, true)
	if result.Valid {
		t.Fatalf("expected invalid, got valid")
	}
	if !hasViolation(result.Violations, PrivilegeEscalation) || !hasViolation(result.Violations, BudgetEscalation) {
		t.Fatalf("expected PRIVILEGE_ESCALATION and BUDGET_ESCALATION, got %v", result.Violations)
	}
	if result.Adjusted == nil {
		t.Fatalf("expected an adjusted child with autoAdjust=true")
	}
	if len(result.Adjusted.Tools) != 2 || !contains(result.Adjusted.Tools, "web_search") || !contains(result.Adjusted.Tools, "database_read") {
		t.Fatalf("expected adjusted tools [web_search database_read], got %v", result.Adjusted.Tools)
	}
	if result.Adjusted.Budgets.MaxCostPerSession != 50 {
		t.Fatalf("expected adjusted session budget 50, got %v", result.Adjusted.Budgets.MaxCostPerSession)
	}
}

func TestValidate_NoViolations(t *testing.T) {
	parent := Capabilities{
		Tools:           []string{"web_search"},
		AllowedDomains:  []string{"*.example.com"},
		Budgets:         Budgets{MaxCostPerSession: 10},
		MaxChildDepth:   2,
		GenerationDepth: 0,
		MayChildSpawn:   true,
		RiskLevel:       risklevel.Limited,
	}
	enforcer := &Enforcer{}
	req := SpawnRequest{
		Tools:          []string{"web_search"},
		AllowedDomains: []string{"api.example.com"},
		Budgets:        Budgets{MaxCostPerSession: 5},
		RiskLevel:      risklevel.Minimal,
	}
	result := enforcer.Validate(parent, req, false)
	if !result.Valid {
		t.Fatalf("expected valid, got violations %v", result.Violations)
	}
	if result.Adjusted != nil {
		t.Fatalf("expected no adjusted child when valid")
	}
}

func TestValidate_DepthExceeded(t *testing.T) {
	parent := Capabilities{
		Tools:           []string{"*"},
		MaxChildDepth:   1,
		GenerationDepth: 1,
		MayChildSpawn:   true,
	}
	enforcer := &Enforcer{}
	result := enforcer.Validate(parent, SpawnRequest{}, false)
	if result.Valid || !hasViolation(result.Violations, DepthExceeded) {
		t.Fatalf("expected DEPTH_EXCEEDED, got %v", result.Violations)
	}
}

func TestValidate_MayNotSpawnChildren(t *testing.T) {
	parent := Capabilities{Tools: []string{"*"}, MaxChildDepth: 5, GenerationDepth: 0, MayChildSpawn: false}
	enforcer := &Enforcer{}
	result := enforcer.Validate(parent, SpawnRequest{}, false)
	if result.Valid || !hasViolation(result.Violations, DepthExceeded) {
		t.Fatalf("expected DEPTH_EXCEEDED when parent may not spawn children, got %v", result.Violations)
	}
}

func TestValidate_GlobalDeniedTool(t *testing.T) {
	parent := Capabilities{Tools: []string{"*"}, MaxChildDepth: 3, MayChildSpawn: true}
	enforcer := &Enforcer{GlobalDeniedTools: []string{"shell_exec"}}
	result := enforcer.Validate(parent, SpawnRequest{Tools: []string{"shell_exec"}}, false)
	if result.Valid || !hasViolation(result.Violations, PrivilegeEscalation) {
		t.Fatalf("expected PRIVILEGE_ESCALATION for a globally denied tool, got %v", result.Violations)
	}
}

func TestApplyDecay_Inherit(t *testing.T) {
	parent := Capabilities{
		Tools:           []string{"web_search", "send_email"},
		MaxChildDepth:   1,
		GenerationDepth: 0,
		MayChildSpawn:   true,
	}
	enforcer := &Enforcer{}
	child := enforcer.ApplyDecay(parent, Inherit, nil)
	if child.GenerationDepth != 1 {
		t.Fatalf("expected generation depth 1, got %d", child.GenerationDepth)
	}
	if child.MayChildSpawn {
		t.Fatalf("expected may_spawn_children forced false once the depth cap is reached")
	}
	if len(child.Tools) != len(parent.Tools) {
		t.Fatalf("inherit mode must not shrink the tool set, got %v", child.Tools)
	}
}

func TestApplyDecay_DecayThenInheritToolsNeverGrow(t *testing.T) {
	// applyDecay(P, decay) then applyDecay(_, inherit) must not re-grant a
	// tool decay removed.
	parent := Capabilities{
		Tools:           []string{"web_search", "send_email"},
		MaxChildDepth:   5,
		GenerationDepth: 0,
		MayChildSpawn:   true,
	}
	enforcer := &Enforcer{Rules: DecayRules{RemoveFromChildren: []string{"send_email"}}}
	decayed := enforcer.ApplyDecay(parent, Decay, nil)
	grandchild := enforcer.ApplyDecay(decayed, Inherit, nil)
	if len(grandchild.Tools) != len(decayed.Tools) {
		t.Fatalf("inherit must not change the tool set: got %v from %v", grandchild.Tools, decayed.Tools)
	}
	if contains(grandchild.Tools, "send_email") {
		t.Fatalf("inherit must not re-grant a tool decay removed, got %v", grandchild.Tools)
	}
}

func TestDomainCovered_WildcardSuffix(t *testing.T) {
	cases := []struct {
		domain   string
		patterns []string
		want     bool
	}{
		{"api.example.com", []string{"*.example.com"}, true},
		{"example.com", []string{"*.example.com"}, true},
		{"evil.com", []string{"*.example.com"}, false},
		{"anything", []string{"*"}, true},
		{"exact.com", []string{"exact.com"}, true},
	}
	for _, c := range cases {
		if got := domainCovered(c.domain, c.patterns); got != c.want {
			t.Errorf("domainCovered(%q, %v) = %v, want %v", c.domain, c.patterns, got, c.want)
		}
	}
}

func hasViolation(vs []Violation, target Violation) bool {
	for _, v := range vs {
		if v == target {
			return true
		}
	}
	return false
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
