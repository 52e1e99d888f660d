// Package server hosts the HTTP handler groups main.go wires onto the
// engine's mux: one handler struct per component, each holding its
// collaborators and a *log.Logger.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/aigos/cga-engine/pkg/errs"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError renders an *errs.Error at the status its Kind maps to,
// falling back to 500 for anything else.
func writeDomainError(w http.ResponseWriter, err error) {
	if de, ok := err.(*errs.Error); ok {
		writeJSON(w, errs.HTTPStatus(de.Kind), map[string]any{
			"error":   string(de.Kind),
			"message": de.Message,
			"details": de.Details,
		})
		return
	}
	writeJSONError(w, err.Error(), http.StatusInternalServerError)
}

func defaultLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
