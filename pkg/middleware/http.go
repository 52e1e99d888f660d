package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// HTTPAdapter wraps a Pipeline as net/http middleware: a struct holding its
// collaborators and a *log.Logger, no package-level state.
type HTTPAdapter struct {
	Pipeline *Pipeline
	Logger   *log.Logger
}

// NewHTTPAdapter builds an adapter, defaulting the logger if none is given.
func NewHTTPAdapter(pipeline *Pipeline, logger *log.Logger) *HTTPAdapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[A2AMiddleware] ", log.LstdFlags)
	}
	return &HTTPAdapter{Pipeline: pipeline, Logger: logger}
}

// Wrap returns an http.Handler that runs the pipeline before delegating to
// next; on failure it writes an {error,message,details?} JSON response and
// never calls next.
func (a *HTTPAdapter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta{
			Headers: flattenHeaders(r.Header),
			Method:  r.Method,
			Path:    r.URL.Path,
		}
		outcome := a.Pipeline.Handle(meta)
		if outcome.Failure != nil {
			a.Logger.Printf("denied %s %s: %s (%s)", r.Method, r.URL.Path, outcome.Failure.Message, outcome.Failure.Code)
			writeFailure(w, outcome.Failure)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSuccess(r.Context(), outcome.Success)))
	})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func writeFailure(w http.ResponseWriter, f *Failure) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   f.Code,
		"message": f.Message,
		"details": f.Details,
	})
}

type contextKey string

const successContextKey contextKey = "aigos.middleware.success"

func withSuccess(ctx context.Context, success *Success) context.Context {
	return context.WithValue(ctx, successContextKey, success)
}

// FromContext retrieves the pipeline's Success outcome attached by Wrap,
// for downstream handlers that need claims/trust-result details.
func FromContext(ctx context.Context) (*Success, bool) {
	v := ctx.Value(successContextKey)
	success, ok := v.(*Success)
	return success, ok
}
