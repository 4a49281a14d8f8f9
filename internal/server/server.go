// Package server exposes the observational HTTP surface: health, the JSON
// metrics snapshot, and the Prometheus scrape endpoint.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apatte-racing/telemetry-ingest/internal/health"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

// Handler serves the ingest service's HTTP endpoints.
type Handler struct {
	evaluator *health.Evaluator
	recorder  *metrics.Recorder
}

func NewHandler(evaluator *health.Evaluator, recorder *metrics.Recorder) *Handler {
	return &Handler{evaluator: evaluator, recorder: recorder}
}

// NewRouter constructs a ServeMux with the ingest endpoints registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/metrics", h.Metrics)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	return mux
}

// Health reports pipeline health. A degraded status still answers 200; the
// endpoint is observational and the body carries the verdict.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	h.writeJSON(w, http.StatusOK, h.evaluator.Report())
}

// Metrics serves the JSON snapshot of pipeline counters, gauges and rates.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	h.writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
