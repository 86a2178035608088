package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bcnelson/csp-rule-manager/internal/catalog"
	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/service"
	"github.com/bcnelson/csp-rule-manager/internal/validation"
	"github.com/go-chi/chi/v5"
)

// maxBulkActionBody caps the size of a bulk action request body.
const maxBulkActionBody = 1 << 20

// BenchmarkRuleHandler serves the benchmark rule catalog and the rule state
// endpoints.
type BenchmarkRuleHandler struct {
	catalog *catalog.Catalog
	service *service.BulkActionService
}

// NewBenchmarkRuleHandler creates a new BenchmarkRuleHandler.
func NewBenchmarkRuleHandler(cat *catalog.Catalog, svc *service.BulkActionService) *BenchmarkRuleHandler {
	return &BenchmarkRuleHandler{catalog: cat, service: svc}
}

func queryInt(r *http.Request, name string, errs *validation.ValidationErrors) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		errs.Add(name, raw, "must be an integer")
		return 0
	}
	return n
}

// Find lists catalog rules. Query parameters: search, benchmark_id,
// section, sort_field, sort_order, page, per_page.
func (h *BenchmarkRuleHandler) Find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs validation.ValidationErrors
	req := domain.FindRulesRequest{
		Search:      q.Get("search"),
		BenchmarkID: q.Get("benchmark_id"),
		Section:     q.Get("section"),
		SortField:   q.Get("sort_field"),
		SortOrder:   q.Get("sort_order"),
		Page:        queryInt(r, "page", &errs),
		PerPage:     queryInt(r, "per_page", &errs),
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	resp, err := h.catalog.Find(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns a single catalog rule.
func (h *BenchmarkRuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// States returns the muted rules keyed by rule key.
func (h *BenchmarkRuleHandler) States(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.RuleStates(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}

	setSettingsETag(w, current)
	if checkIfNoneMatch(r, current) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, current.Rules)
}

// BulkAction mutes or unmutes a set of rules. When the states were saved but
// detection rules could not all be disabled the response is still 200 and
// carries a warning.
func (h *BenchmarkRuleHandler) BulkAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBulkActionBody)
	var req domain.BulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondStandardError(w, http.StatusRequestEntityTooLarge, domain.ErrCodeInvalidInput, "request body too large", "", nil)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	version, err := expectedVersion(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	req.ExpectedVersion = version

	result, err := h.service.BulkSetRuleState(r.Context(), req)
	if err != nil {
		var syncErr *domain.SynchronizationError
		if !errors.As(err, &syncErr) || result == nil {
			handleError(w, r, err)
			return
		}
	}

	setSettingsETag(w, result.UpdatedSettings)
	respondJSON(w, http.StatusOK, result)
}
