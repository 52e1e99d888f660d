package server

import (
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/certificate"
	"github.com/aigos/cga-engine/pkg/verification"
)

// CertificateHandlers exposes C4: turning a verification report into a
// signed full certificate, and the full certificate into its compact,
// token-embeddable projection.
type CertificateHandlers struct {
	generator *certificate.Generator
	logger    *log.Logger
}

func NewCertificateHandlers(generator *certificate.Generator, logger *log.Logger) *CertificateHandlers {
	if logger == nil {
		logger = defaultLogger("[Certificate] ")
	}
	return &CertificateHandlers{generator: generator, logger: logger}
}

type generateCertificateRequest struct {
	Report           *verification.Report `json:"report"`
	AgentID          string                `json:"agent_id"`
	AgentVersion     string                `json:"agent_version"`
	GoldenThreadHash string                `json:"golden_thread_hash"`
	AsYAML           bool                  `json:"as_yaml"`
}

// HandleGenerate handles POST /api/v1/certificates.
func (h *CertificateHandlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generateCertificateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Report == nil {
		writeJSONError(w, "report is required", http.StatusBadRequest)
		return
	}
	cert, err := h.generator.Generate(req.Report, req.AgentID, req.AgentVersion, req.GoldenThreadHash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Printf("issued certificate %s at level %s for %s", cert.Metadata.ID, cert.Spec.Certification.Level, req.AgentID)

	if req.AsYAML {
		out, err := certificate.DumpFull(cert, true)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(out)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

type compactRequest struct {
	Certificate *certificate.Full `json:"certificate"`
}

// HandleCompact handles POST /api/v1/certificates/compact.
func (h *CertificateHandlers) HandleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req compactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Certificate == nil {
		writeJSONError(w, "certificate is required", http.StatusBadRequest)
		return
	}
	compact, err := certificate.ToCompact(req.Certificate, h.generator.Signer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compact)
}
