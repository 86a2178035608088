package api

import (
	"net/http"

	"github.com/bcnelson/csp-rule-manager/internal/api/handler"
	"github.com/bcnelson/csp-rule-manager/internal/api/middleware"
	"github.com/bcnelson/csp-rule-manager/internal/catalog"
	"github.com/bcnelson/csp-rule-manager/internal/service"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter creates a new HTTP router with all routes configured.
// verifier may be nil, in which case only API keys are accepted.
func NewRouter(
	store storage.Storage,
	svc *service.BulkActionService,
	cat *catalog.Catalog,
	bootstrapKey string,
	verifier middleware.TokenVerifier,
	logger zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey, verifier))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Benchmark rules and their mute states
		ruleHandler := handler.NewBenchmarkRuleHandler(cat, svc)
		r.Route("/benchmark_rules", func(r chi.Router) {
			r.Get("/", ruleHandler.Find)
			r.Get("/states", ruleHandler.States)
			r.Post("/_bulk_action", ruleHandler.BulkAction)
			r.Get("/{id}", ruleHandler.Get)
		})

		settingsHandler := handler.NewSettingsHandler(svc)
		r.Get("/benchmarks", settingsHandler.Benchmarks)
		r.Get("/settings", settingsHandler.Get)
	})

	return r
}
