package server

import (
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/aigos/cga-engine/pkg/capability"
	"github.com/aigos/cga-engine/pkg/risklevel"
)

// CapabilityHandlers exposes C8: validating a child spawn request against
// its parent's capability set.
type CapabilityHandlers struct {
	enforcer *capability.Enforcer
	logger   *log.Logger
}

func NewCapabilityHandlers(enforcer *capability.Enforcer, logger *log.Logger) *CapabilityHandlers {
	if logger == nil {
		logger = defaultLogger("[Capability] ")
	}
	return &CapabilityHandlers{enforcer: enforcer, logger: logger}
}

type capabilitiesPayload struct {
	Tools           []string            `json:"tools"`
	AllowedDomains  []string            `json:"allowed_domains"`
	DeniedDomains   []string            `json:"denied_domains"`
	Budgets         capability.Budgets  `json:"budgets"`
	RiskLevel       string              `json:"risk_level"`
	MaxChildDepth   int                 `json:"max_child_depth"`
	GenerationDepth int                 `json:"generation_depth"`
	MayChildSpawn   bool                `json:"may_child_spawn"`
}

func (p capabilitiesPayload) toDomain() capability.Capabilities {
	return capability.Capabilities{
		Tools:           p.Tools,
		AllowedDomains:  p.AllowedDomains,
		DeniedDomains:   p.DeniedDomains,
		Budgets:         p.Budgets,
		RiskLevel:       risklevel.Level(p.RiskLevel),
		MaxChildDepth:   p.MaxChildDepth,
		GenerationDepth: p.GenerationDepth,
		MayChildSpawn:   p.MayChildSpawn,
	}
}

type spawnRequestPayload struct {
	Tools          []string           `json:"tools"`
	AllowedDomains []string           `json:"allowed_domains"`
	Budgets        capability.Budgets `json:"budgets"`
	RiskLevel      string             `json:"risk_level"`
}

func (p spawnRequestPayload) toDomain() capability.SpawnRequest {
	return capability.SpawnRequest{
		Tools:          p.Tools,
		AllowedDomains: p.AllowedDomains,
		Budgets:        p.Budgets,
		RiskLevel:      risklevel.Level(p.RiskLevel),
	}
}

type validateSpawnRequest struct {
	Parent     capabilitiesPayload `json:"parent"`
	Request    spawnRequestPayload `json:"request"`
	AutoAdjust bool                `json:"auto_adjust"`
}

// HandleValidate handles POST /api/v1/capabilities/validate.
func (h *CapabilityHandlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req validateSpawnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// Each spawn request gets its own audit id, logged alongside the
	// decision so a denied spawn can be traced back through the parent's
	// logs even though the engine itself persists nothing.
	requestID := uuid.NewString()
	result := h.enforcer.Validate(req.Parent.toDomain(), req.Request.toDomain(), req.AutoAdjust)
	if !result.Valid {
		h.logger.Printf("spawn request %s denied: %v", requestID, result.Violations)
	} else {
		h.logger.Printf("spawn request %s approved", requestID)
	}
	writeJSON(w, http.StatusOK, struct {
		RequestID string `json:"request_id"`
		*capability.ValidationResult
	}{RequestID: requestID, ValidationResult: result})
}
