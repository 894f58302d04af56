package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"territory-balance-map/pkg/geoload"
)

// =======================
// Public API entry points
// =======================

// Handler wires the dataset loader into HTTP routes so they stay small
// and focused on translating requests into load-aggregate-respond passes.
// Load runs fresh on every call; nothing is cached between requests, so
// rewriting the default file shows up on the next page load.
type Handler struct {
	Load    func() (*geoload.Dataset, error)
	Limiter *RateLimiter
	Logf    func(string, ...any)
}

// NewHandler constructs a Handler. limiter and logf are optional; pass
// nil to disable rate limiting or logging.
func NewHandler(load func() (*geoload.Dataset, error), limiter *RateLimiter, logf func(string, ...any)) *Handler {
	return &Handler{Load: load, Limiter: limiter, Logf: logf}
}

// Register attaches API routes to the provided mux. Kept tiny and
// declarative: URLs to helpers, nothing clever.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.HandleFunc("/api/summary", h.handleSummary)
	mux.HandleFunc("/api/features", h.handleFeatures)
}

// handleOverview publishes machine-readable docs so developers know which
// endpoints exist without reading the source.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := struct {
		Endpoints map[string]any `json:"endpoints"`
	}{
		Endpoints: map[string]any{
			"summary": map[string]any{
				"method":      "GET",
				"path":        "/api/summary",
				"description": "Per-territory balance table plus headline metrics for the default dataset, without geometries.",
			},
			"features": map[string]any{
				"method":      "GET",
				"path":        "/api/features",
				"description": "Full render payload: summaries, color scale and the GeoJSON features with joined metrics and fill colors.",
			},
			"upload": map[string]any{
				"method":      "POST",
				"path":        "/upload",
				"description": "Multipart upload of a territories GeoJSON; responds with the same payload as /api/features for the uploaded data.",
			},
		},
	}
	h.respondJSON(w, overview)
}

// handleSummary serves the table and metrics without geometries.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	permit, err := h.acquire(r, RequestGeneral)
	if err != nil {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
		return
	}
	defer permit.Release()

	view, ok := h.loadView(w)
	if !ok {
		return
	}
	h.respondJSON(w, view.WithoutFeatures())
}

// handleFeatures serves the full payload including the enriched
// FeatureCollection; counted as heavy for the rate limiter.
func (h *Handler) handleFeatures(w http.ResponseWriter, r *http.Request) {
	permit, err := h.acquire(r, RequestHeavy)
	if err != nil {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
		return
	}
	defer permit.Release()

	view, ok := h.loadView(w)
	if !ok {
		return
	}
	h.respondJSON(w, view)
}

// loadView runs one load-aggregate pass. A missing dataset is not an
// error: the empty view tells the frontend to show its prompt. A
// malformed file is reported as a non-fatal message; nothing renders.
func (h *Handler) loadView(w http.ResponseWriter) (View, bool) {
	ds, err := h.Load()
	if err != nil {
		if errors.Is(err, geoload.ErrNoInput) {
			return EmptyView(), true
		}
		h.logf("api: load failed: %v", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return View{}, false
	}
	return BuildView(ds), true
}

func (h *Handler) acquire(r *http.Request, kind RequestKind) (*Permit, error) {
	if h.Limiter == nil {
		return nil, nil
	}
	permit, err := h.Limiter.Acquire(r.Context(), ClientIP(r), kind)
	if err != nil {
		return nil, err
	}
	if permit != nil && permit.WaitNotice {
		h.logf("api: %s waited %s for a slot", ClientIP(r), permit.WaitDuration)
	}
	return permit, nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logf("api: response write error: %v", err)
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

// ClientIP extracts the caller address for rate limiting: the first
// X-Forwarded-For hop when present, else the connection address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
