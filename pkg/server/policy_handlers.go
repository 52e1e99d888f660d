package server

import (
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/policy"
)

// PolicyHandlers exposes C9: resolving a policy's inheritance chain and
// selecting the best-matching policy for an asset.
type PolicyHandlers struct {
	repo     policy.AllRepository
	selector *policy.Selector
	logger   *log.Logger
}

func NewPolicyHandlers(repo policy.AllRepository, selector *policy.Selector, logger *log.Logger) *PolicyHandlers {
	if logger == nil {
		logger = defaultLogger("[Policy] ")
	}
	return &PolicyHandlers{repo: repo, selector: selector, logger: logger}
}

type resolveRequest struct {
	ID string `json:"id"`
}

// HandleResolve handles POST /api/v1/policy/resolve.
func (h *PolicyHandlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resolved, err := policy.Resolve(req.ID, h.repo)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

type selectRequest struct {
	AssetID   string   `json:"asset_id"`
	RiskLevel string   `json:"risk_level"`
	Tags      []string `json:"tags"`
	Mode      string   `json:"mode"`
	Env       string   `json:"env"`
}

// HandleSelect handles POST /api/v1/policy/select.
func (h *PolicyHandlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	criteria := policy.Criteria{AssetID: req.AssetID, RiskLevel: req.RiskLevel, Tags: req.Tags, Mode: req.Mode, Env: req.Env}
	selection, err := h.selector.Select(criteria)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Printf("selected policy %s for asset %s (score %d)", selection.Document.ID, req.AssetID, selection.Score)
	writeJSON(w, http.StatusOK, selection)
}
