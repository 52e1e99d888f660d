package server

import (
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/errs"
	"github.com/aigos/cga-engine/pkg/verification"
)

// VerificationHandlers runs the verification engine over caller-supplied
// evidence. Gathering that evidence (asset-card storage, a live kill-switch
// round trip, the agent's own policy-engine introspection) is explicitly
// out of scope for the engine core; callers that already collected it
// submit it here and get back a scored report.
type VerificationHandlers struct {
	engine *verification.Engine
	logger *log.Logger
}

func NewVerificationHandlers(engine *verification.Engine, logger *log.Logger) *VerificationHandlers {
	if logger == nil {
		logger = defaultLogger("[Verification] ")
	}
	return &VerificationHandlers{engine: engine, logger: logger}
}

type evidenceContext struct {
	assetCard       map[string]any
	computedHash    string
	claimedHash     string
	killSwitchOK    bool
	killSwitchNote  string
	policyStrict    bool
	policyNote      string
}

func (c *evidenceContext) LoadAssetCard() (map[string]any, error) { return c.assetCard, nil }

func (c *evidenceContext) ComputeGoldenThreadHash() (string, string, error) {
	return c.computedHash, c.claimedHash, nil
}

func (c *evidenceContext) SendKillSwitchTest() (bool, string, error) {
	return c.killSwitchOK, c.killSwitchNote, nil
}

func (c *evidenceContext) RunPolicyCheck() (bool, string, error) {
	return c.policyStrict, c.policyNote, nil
}

type runVerificationRequest struct {
	AgentID     string         `json:"agent_id"`
	TargetLevel string         `json:"target_level"`
	AssetCard   map[string]any `json:"asset_card"`
	GoldenThread struct {
		Computed string `json:"computed"`
		Claimed  string `json:"claimed"`
	} `json:"golden_thread"`
	KillSwitch struct {
		OK     bool   `json:"ok"`
		Detail string `json:"detail"`
	} `json:"kill_switch"`
	PolicyEngine struct {
		Strict bool   `json:"strict"`
		Detail string `json:"detail"`
	} `json:"policy_engine"`
}

// HandleRun handles POST /api/v1/verify.
func (h *VerificationHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req runVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	level := cgalevel.Level(req.TargetLevel)
	if !level.Valid() {
		writeDomainError(w, errs.New(errs.SchemaViolation, "unknown target_level %q", req.TargetLevel))
		return
	}

	ctx := &evidenceContext{
		assetCard:      req.AssetCard,
		computedHash:   req.GoldenThread.Computed,
		claimedHash:    req.GoldenThread.Claimed,
		killSwitchOK:   req.KillSwitch.OK,
		killSwitchNote: req.KillSwitch.Detail,
		policyStrict:   req.PolicyEngine.Strict,
		policyNote:     req.PolicyEngine.Detail,
	}

	report, err := h.engine.Verify(verification.Request{AgentID: req.AgentID, TargetLevel: level, Context: ctx})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Printf("verification run for %s: target=%s achieved=%v", req.AgentID, level, report.AchievedLevel)
	writeJSON(w, http.StatusOK, report)
}
