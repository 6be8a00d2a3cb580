// Package health provides HTTP health and readiness check handlers for the
// admin API.
//
// The package exposes three endpoints:
//
//   - /live: liveness probe; always returns 200 OK.
//   - /ready: readiness probe; returns 200 only when all registered
//     [Checker] functions pass (ARI subscribed, transport bound, default
//     provider reachable).
//   - /health: detailed JSON snapshot of the engine's runtime state.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "ari",
	// "transport", "provider"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// ProviderStatus is one provider's entry in the /health report.
type ProviderStatus struct {
	Ready     bool   `json:"ready"`
	LastError string `json:"last_error,omitempty"`
}

// Status is the /health response body.
type Status struct {
	ARIConnected bool                      `json:"ari_connected"`
	Transport    string                    `json:"transport"`
	ActiveCalls  int                       `json:"active_calls"`
	Providers    map[string]ProviderStatus `json:"providers"`
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /live, /ready, and /health endpoints. It is safe for
// concurrent use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   func() Status
}

// New creates a [Handler]. status supplies the /health snapshot and may be
// nil; the checkers are evaluated sequentially on each /ready request in the
// order provided.
func New(status func() Status, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, status: status}
}

// Live is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Ready is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Health reports the detailed runtime snapshot.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	var s Status
	if h.status != nil {
		s = h.status()
	}
	if s.Providers == nil {
		s.Providers = map[string]ProviderStatus{}
	}
	writeJSON(w, http.StatusOK, s)
}

// Register adds the /live, /ready, and /health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /live", h.Live)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /health", h.Health)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
