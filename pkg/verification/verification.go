// Package verification implements the verification engine: a registry of
// checks run against an asset for a target CGA level, producing a report
// and the achieved level.
package verification

import (
	"sync"
	"time"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
)

// Status is the outcome of a single check.
type Status string

const (
	Pass Status = "PASS"
	Fail Status = "FAIL"
	Skip Status = "SKIP"
	Warn Status = "WARN"
)

// CheckResult is the outcome of running one check.
type CheckResult struct {
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	Message    string         `json:"message"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	DurationMs float64        `json:"duration_ms,omitempty"`
}

// Summary tallies a report's checks by status.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Warnings int `json:"warnings"`
}

// Report is the full output of a verification run.
type Report struct {
	AgentID       string          `json:"agent_id"`
	Timestamp     time.Time       `json:"timestamp"`
	TargetLevel   cgalevel.Level  `json:"target_level"`
	AchievedLevel *cgalevel.Level `json:"achieved_level,omitempty"`
	Checks        []CheckResult   `json:"checks"`
	Summary       Summary         `json:"summary"`
}

// Context exposes the data accessors and test affordances a Check needs.
// It is the seam between the engine and the outside world: asset-card
// loading, Golden Thread hashing, and the kill-switch live test are all
// reached through this interface rather than hardcoded into checks, so
// tests can supply fakes for every one of them.
type Context interface {
	// LoadAssetCard returns the asset card document the engine is
	// verifying, as a generic map (schema validation is an external
	// collaborator).
	LoadAssetCard() (map[string]any, error)
	// ComputeGoldenThreadHash recomputes the Golden Thread hash for the
	// asset under verification and returns it alongside the hash the
	// asset card claims, for comparison by the identity check.
	ComputeGoldenThreadHash() (computed string, claimed string, err error)
	// SendKillSwitchTest runs the kill-switch live-test protocol and
	// returns true if at least one channel passed.
	SendKillSwitchTest() (ok bool, detail string, err error)
	// RunPolicyCheck reports whether the agent's policy engine is
	// running in strict mode.
	RunPolicyCheck() (strict bool, detail string, err error)
}

// Check is one named, level-scoped verification rule.
type Check struct {
	Name            string
	AppliesToLevels []cgalevel.Level
	Run             func(ctx Context) CheckResult
}

// AppliesTo reports whether the check is applicable to a requested level: a
// check is applicable to level L if the minimum level in its
// AppliesToLevels is <= ord(L).
func (c Check) AppliesTo(target cgalevel.Level) bool {
	if len(c.AppliesToLevels) == 0 {
		return true
	}
	min := c.AppliesToLevels[0].Ord()
	for _, l := range c.AppliesToLevels[1:] {
		if l.Ord() < min {
			min = l.Ord()
		}
	}
	return min <= target.Ord()
}

// Registry holds the set of checks the engine runs, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds or replaces a check by name.
func (r *Registry) Register(check Check) error {
	if check.Name == "" {
		return errs.New(errs.BadFormat, "check name must not be empty")
	}
	if check.Run == nil {
		return errs.New(errs.BadFormat, "check %q has no Run function", check.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name] = check
	return nil
}

// Applicable returns the checks applicable to target, sorted by name so
// reports are deterministic.
func (r *Registry) Applicable(target cgalevel.Level) []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sortStrings(names)

	out := make([]Check, 0, len(names))
	for _, name := range names {
		c := r.checks[name]
		if c.AppliesTo(target) {
			out = append(out, c)
		}
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Engine runs a registry's applicable checks and assembles a Report.
type Engine struct {
	Registry *Registry
}

// NewEngine builds an Engine over a registry. If registry is nil, a
// registry with the default checks is used.
func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
		RegisterDefaults(registry)
	}
	return &Engine{Registry: registry}
}

// Request is the input to Verify.
type Request struct {
	AgentID     string
	TargetLevel cgalevel.Level
	Context     Context
}

// Verify runs every check applicable to req.TargetLevel and assembles the
// report. A check whose Run panics-as-error (returns an error wrapped as a
// FAIL) still contributes a FAIL result rather than aborting the run — the
// engine's Context methods return errors, not panics, and checks are
// expected to translate a returned error into a FAIL CheckResult
// themselves; Verify does not recover from panics.
func (e *Engine) Verify(req Request) (*Report, error) {
	if !req.TargetLevel.Valid() {
		return nil, errs.New(errs.SchemaViolation, "unknown target level %q", req.TargetLevel)
	}

	checks := e.Registry.Applicable(req.TargetLevel)
	report := &Report{
		AgentID:     req.AgentID,
		Timestamp:   time.Now().UTC(),
		TargetLevel: req.TargetLevel,
		Checks:      make([]CheckResult, 0, len(checks)),
	}

	for _, check := range checks {
		start := time.Now()
		result := check.Run(req.Context)
		if result.DurationMs == 0 {
			result.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
		if result.Name == "" {
			result.Name = check.Name
		}
		report.Checks = append(report.Checks, result)
		switch result.Status {
		case Pass:
			report.Summary.Passed++
		case Fail:
			report.Summary.Failed++
		case Skip:
			report.Summary.Skipped++
		case Warn:
			report.Summary.Warnings++
		}
	}
	report.Summary.Total = len(report.Checks)
	report.AchievedLevel = achievedLevel(report, req.TargetLevel)
	return report, nil
}

// achievedLevel returns target when no check in the report FAILed, and nil
// otherwise; it never returns a level below target. Any FAIL at or below
// the target collapses the achieved level to nil, since a level's
// requirements are cumulative: a FAIL on a BRONZE-level check means even
// BRONZE was not achieved.
func achievedLevel(report *Report, target cgalevel.Level) *cgalevel.Level {
	for _, result := range report.Checks {
		if result.Status == Fail {
			return nil
		}
	}
	level := target
	return &level
}
