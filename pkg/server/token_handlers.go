package server

import (
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/certificate"
	"github.com/aigos/cga-engine/pkg/risklevel"
	"github.com/aigos/cga-engine/pkg/token"
)

// TokenHandlers exposes C5: minting a bearer token from a compact
// certificate, and verifying one back into claims.
type TokenHandlers struct {
	minter   *token.Minter
	verifier *token.Verifier
	logger   *log.Logger
}

func NewTokenHandlers(minter *token.Minter, verifier *token.Verifier, logger *log.Logger) *TokenHandlers {
	if logger == nil {
		logger = defaultLogger("[Token] ")
	}
	return &TokenHandlers{minter: minter, verifier: verifier, logger: logger}
}

type mintRequest struct {
	Certificate      *certificate.Compact `json:"certificate"`
	Audience         []string             `json:"audience"`
	AssetID          string               `json:"asset_id"`
	GoldenThreadHash string               `json:"golden_thread_hash"`
	RiskLevel        string               `json:"risk_level"`
	Capabilities     []string             `json:"capabilities"`
	PolicyVersion    string               `json:"policy_version,omitempty"`
}

// HandleMint handles POST /api/v1/tokens/mint.
func (h *TokenHandlers) HandleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Certificate == nil {
		writeJSONError(w, "certificate is required", http.StatusBadRequest)
		return
	}
	result, err := h.minter.Mint(token.MintRequest{
		Certificate:      req.Certificate,
		Audience:         req.Audience,
		AssetID:          req.AssetID,
		GoldenThreadHash: req.GoldenThreadHash,
		RiskLevel:        risklevel.Level(req.RiskLevel),
		Capabilities:     req.Capabilities,
		PolicyVersion:    req.PolicyVersion,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Printf("minted token for %s expiring %s", req.AssetID, result.ExpiresAt)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
	})
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

// HandleVerify handles POST /api/v1/tokens/verify.
func (h *TokenHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req verifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.verifier.Verify(req.Token)
	if err != nil {
		h.logger.Printf("token verification failed: %v", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claims":             result.Claims,
		"warnings":           result.Warnings,
		"certificate_status": result.CertificateStatus,
	})
}
