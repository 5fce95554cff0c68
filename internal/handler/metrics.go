package handler

import (
	"net/http"
)

type MetricsHandler struct {
	metrics MetricsReader
}

func NewMetricsHandler(metrics MetricsReader) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// GET /v1/metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}
