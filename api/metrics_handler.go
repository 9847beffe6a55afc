package api

import (
	"encoding/json"
	"net/http"

	"github.com/KanavDutta/windowfence/metrics"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	Snapshot() *metrics.Snapshot
}

// MetricsHandler handles GET /metrics requests
type MetricsHandler struct {
	provider MetricsProvider
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(provider MetricsProvider) *MetricsHandler {
	return &MetricsHandler{provider: provider}
}

// ServeHTTP writes the current snapshot as JSON.
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*") // dashboard may be served elsewhere
	_ = json.NewEncoder(w).Encode(h.provider.Snapshot())
}
