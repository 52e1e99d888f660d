package verification

import (
	"fmt"

	"github.com/aigos/cga-engine/pkg/cgalevel"
)

// RegisterDefaults registers the minimum required check set: asset-card
// and Golden Thread identity checks at every level, kill-switch
// declaration at every level with the live test gated to SILVER+,
// strict-mode policy enforcement at SILVER+, and the GOLD+
// compliance/capability attestations.
func RegisterDefaults(r *Registry) {
	for _, c := range defaultChecks() {
		_ = r.Register(c)
	}
}

func defaultChecks() []Check {
	return []Check{
		{
			Name:            "identity.asset_card_valid",
			AppliesToLevels: cgalevel.All,
			Run:             checkAssetCardValid,
		},
		{
			Name:            "identity.golden_thread_hash",
			AppliesToLevels: cgalevel.All,
			Run:             checkGoldenThreadHash,
		},
		{
			Name:            "kill_switch.endpoint_declared",
			AppliesToLevels: cgalevel.All,
			Run:             checkKillSwitchDeclared,
		},
		{
			Name:            "kill_switch.live_test",
			AppliesToLevels: []cgalevel.Level{cgalevel.Silver, cgalevel.Gold, cgalevel.Platinum},
			Run:             checkKillSwitchLiveTest,
		},
		{
			Name:            "policy_engine.strict_mode",
			AppliesToLevels: []cgalevel.Level{cgalevel.Silver, cgalevel.Gold, cgalevel.Platinum},
			Run:             checkPolicyStrictMode,
		},
		{
			Name:            "compliance.framework_mapped",
			AppliesToLevels: []cgalevel.Level{cgalevel.Gold, cgalevel.Platinum},
			Run:             checkComplianceFrameworkMapped,
		},
		{
			Name:            "capability.bounds_declared",
			AppliesToLevels: []cgalevel.Level{cgalevel.Gold, cgalevel.Platinum},
			Run:             checkCapabilityBoundsDeclared,
		},
		{
			Name:            "telemetry.configured",
			AppliesToLevels: []cgalevel.Level{cgalevel.Silver, cgalevel.Gold, cgalevel.Platinum},
			Run:             checkTelemetryConfigured,
		},
	}
}

func fail(name, format string, args ...any) CheckResult {
	return CheckResult{Name: name, Status: Fail, Message: fmt.Sprintf(format, args...)}
}

func pass(name, message string, evidence map[string]any) CheckResult {
	return CheckResult{Name: name, Status: Pass, Message: message, Evidence: evidence}
}

func checkAssetCardValid(ctx Context) CheckResult {
	const name = "identity.asset_card_valid"
	card, err := ctx.LoadAssetCard()
	if err != nil {
		return fail(name, "load asset card: %v", err)
	}
	for _, field := range []string{"agent_id", "agent_version"} {
		if v, ok := card[field]; !ok || fmt.Sprintf("%v", v) == "" {
			return fail(name, "asset card missing required field %q", field)
		}
	}
	return pass(name, "asset card present with required identity fields", nil)
}

func checkGoldenThreadHash(ctx Context) CheckResult {
	const name = "identity.golden_thread_hash"
	computed, claimed, err := ctx.ComputeGoldenThreadHash()
	if err != nil {
		return fail(name, "compute golden thread hash: %v", err)
	}
	if computed != claimed {
		return fail(name, "golden thread hash mismatch: computed %s, asset card claims %s", computed, claimed)
	}
	return pass(name, "golden thread hash matches", map[string]any{"hash": computed})
}

func checkKillSwitchDeclared(ctx Context) CheckResult {
	const name = "kill_switch.endpoint_declared"
	card, err := ctx.LoadAssetCard()
	if err != nil {
		return fail(name, "load asset card: %v", err)
	}
	ks, ok := card["kill_switch"].(map[string]any)
	if !ok {
		return fail(name, "asset card has no kill_switch section")
	}
	endpoint, _ := ks["endpoint"].(string)
	if endpoint == "" {
		return fail(name, "kill_switch.endpoint is not declared")
	}
	return pass(name, "kill-switch endpoint declared", map[string]any{"endpoint": endpoint})
}

func checkKillSwitchLiveTest(ctx Context) CheckResult {
	const name = "kill_switch.live_test"
	ok, detail, err := ctx.SendKillSwitchTest()
	if err != nil {
		return fail(name, "kill-switch live test: %v", err)
	}
	if !ok {
		return fail(name, "kill-switch live test did not pass on any channel: %s", detail)
	}
	return pass(name, "kill-switch live test passed", map[string]any{"detail": detail})
}

func checkPolicyStrictMode(ctx Context) CheckResult {
	const name = "policy_engine.strict_mode"
	strict, detail, err := ctx.RunPolicyCheck()
	if err != nil {
		return fail(name, "policy engine check: %v", err)
	}
	if !strict {
		return fail(name, "policy engine is not running in strict mode: %s", detail)
	}
	return pass(name, "policy engine running in strict mode", nil)
}

func checkComplianceFrameworkMapped(ctx Context) CheckResult {
	const name = "compliance.framework_mapped"
	card, err := ctx.LoadAssetCard()
	if err != nil {
		return fail(name, "load asset card: %v", err)
	}
	compliance, ok := card["compliance"].(map[string]any)
	if !ok {
		return fail(name, "asset card has no compliance section")
	}
	frameworks, ok := compliance["frameworks"].([]any)
	if !ok || len(frameworks) == 0 {
		return fail(name, "no compliance frameworks mapped")
	}
	return pass(name, "compliance frameworks mapped", map[string]any{"frameworks": frameworks})
}

func checkCapabilityBoundsDeclared(ctx Context) CheckResult {
	const name = "capability.bounds_declared"
	card, err := ctx.LoadAssetCard()
	if err != nil {
		return fail(name, "load asset card: %v", err)
	}
	bounds, ok := card["capability_bounds"].(map[string]any)
	if !ok || len(bounds) == 0 {
		return fail(name, "asset card has no capability_bounds section")
	}
	return pass(name, "capability bounds declared", nil)
}

func checkTelemetryConfigured(ctx Context) CheckResult {
	const name = "telemetry.configured"
	card, err := ctx.LoadAssetCard()
	if err != nil {
		return fail(name, "load asset card: %v", err)
	}
	telemetry, ok := card["telemetry"].(map[string]any)
	if !ok {
		return fail(name, "asset card has no telemetry section")
	}
	endpoint, _ := telemetry["endpoint"].(string)
	if endpoint == "" {
		return fail(name, "telemetry.endpoint is not configured")
	}
	return pass(name, "telemetry configured", map[string]any{"endpoint": endpoint})
}
