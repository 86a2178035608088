package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondStandardError writes an error in the standard envelope.
func respondStandardError(w http.ResponseWriter, status int, code, message, field string, details map[string]any) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:    code,
			Message: message,
			Field:   field,
			Details: details,
		},
	})
}

// respondError writes a standard error with a code derived from the status.
func respondError(w http.ResponseWriter, status int, message string) {
	code := domain.ErrCodeInternalError
	switch status {
	case http.StatusBadRequest:
		code = domain.ErrCodeInvalidInput
	case http.StatusNotFound:
		code = domain.ErrCodeResourceNotFound
	case http.StatusUnauthorized:
		code = domain.ErrCodeUnauthorized
	}
	respondStandardError(w, status, code, message, "", nil)
}

// respondValidationErrors writes every field error of a failed validation.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	field := ""
	if len(errs) == 1 {
		field = errs[0].Field
	}
	respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, errs.Error(), field,
		map[string]any{"errors": errs})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unknown     *domain.UnknownRuleError
		verrs       validation.ValidationErrors
		verr        *validation.ValidationError
		persistence *domain.PersistenceError
	)

	switch {
	case errors.As(err, &unknown):
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, err.Error(), "rules",
			map[string]any{"missing_ids": unknown.MissingIDs})
	case errors.As(err, &verrs):
		respondValidationErrors(w, verrs)
	case errors.As(err, &verr):
		respondValidationErrors(w, validation.ValidationErrors{verr})
	case errors.Is(err, domain.ErrPreconditionFailed):
		respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed, err.Error(), "", nil)
	case errors.Is(err, domain.ErrConflict):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeConflict,
			"settings were modified concurrently, retry the request", "", nil)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, "already exists", "", nil)
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.As(err, &persistence):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("persistence failure")
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodePersistenceError,
			"failed to persist rule states", "", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = "csp_" + hex.EncodeToString(bytes)
	hash = hashKey(key)
	prefix = key[:12] // "csp_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
