package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/api/middleware"
	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// APIKeyHandler manages the API keys used by automation calling the
// rule state endpoints.
type APIKeyHandler struct {
	store storage.Storage
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store storage.Storage) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

// Create issues a key. The plaintext key is only part of this response.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, "name is required", "name", nil)
		return
	}

	key, hash, prefix, err := generateAPIKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}

	apiKey := &domain.APIKey{
		ID:        generateID(),
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		handleError(w, r, err)
		return
	}

	log := zerolog.Ctx(r.Context())
	event := log.Info().Str("key_id", apiKey.ID).Str("key_prefix", apiKey.KeyPrefix)
	if p := middleware.GetPrincipalFromContext(r.Context()); p != nil {
		event = event.Str("created_by", p.Subject)
	}
	event.Msg("API key created")

	respondJSON(w, http.StatusCreated, &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	})
}

// List lists all API keys (without the actual key values).
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*domain.APIKey{}
	}

	respondJSON(w, http.StatusOK, keys)
}

// Delete revokes an API key.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("key_id", id).Msg("API key revoked")

	w.WriteHeader(http.StatusNoContent)
}
