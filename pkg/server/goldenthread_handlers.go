package server

import (
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/goldenthread"
)

// GoldenThreadHandlers exposes C1/C2 over HTTP: building a new Golden
// Thread from ticket/approver/timestamp, and verifying a claimed hash
// against recomputed components.
type GoldenThreadHandlers struct {
	logger *log.Logger
}

func NewGoldenThreadHandlers(logger *log.Logger) *GoldenThreadHandlers {
	if logger == nil {
		logger = defaultLogger("[GoldenThread] ")
	}
	return &GoldenThreadHandlers{logger: logger}
}

type buildRequest struct {
	TicketID   string `json:"ticket_id"`
	ApprovedBy string `json:"approved_by"`
	ApprovedAt string `json:"approved_at"`
}

// HandleBuild handles POST /api/v1/golden-thread/build — builds and hashes a new
// Golden Thread tuple.
func (h *GoldenThreadHandlers) HandleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req buildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	thread, err := goldenthread.Build(req.TicketID, req.ApprovedBy, req.ApprovedAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Printf("built golden thread for ticket %s", req.TicketID)
	writeJSON(w, http.StatusOK, thread)
}

type verifyRequest struct {
	TicketID     string `json:"ticket_id"`
	ApprovedBy   string `json:"approved_by"`
	ApprovedAt   string `json:"approved_at"`
	ExpectedHash string `json:"expected_hash"`
}

// HandleVerify handles POST /api/v1/golden-thread/verify.
func (h *GoldenThreadHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	components := goldenthread.Components{TicketID: req.TicketID, ApprovedBy: req.ApprovedBy, ApprovedAt: req.ApprovedAt}
	result, err := goldenthread.Verify(components, req.ExpectedHash)
	if err != nil {
		h.logger.Printf("golden thread verify failed for ticket %s: %v", req.TicketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
