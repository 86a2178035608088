package handler

import (
	"net/http"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/service"
)

// SettingsHandler exposes the settings record and the per-benchmark
// summaries derived from it.
type SettingsHandler struct {
	service *service.BulkActionService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(svc *service.BulkActionService) *SettingsHandler {
	return &SettingsHandler{service: svc}
}

// Get returns the full settings record, muted and unmuted entries alike.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.Settings(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	setSettingsETag(w, current)
	respondJSON(w, http.StatusOK, current)
}

// Benchmarks lists every benchmark version in the catalog with rule counts.
func (h *SettingsHandler) Benchmarks(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Benchmarks(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []*domain.BenchmarkSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": summaries,
		"total": len(summaries),
	})
}
