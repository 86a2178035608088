package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/rs/zerolog"
)

type contextKey string

// PrincipalContextKey holds the *domain.Principal of an authenticated request.
const PrincipalContextKey contextKey = "principal"

// TokenVerifier verifies bearer ID tokens. *auth.OIDCVerifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*domain.Principal, error)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message},
	})
}

// looksLikeJWT reports whether the token has the three dot separated parts
// of a compact JWS. API keys never contain dots.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// Auth creates authentication middleware. Requests carry either an API key
// or, when verifier is non-nil, an OIDC ID token as a bearer token.
func Auth(store storage.Storage, bootstrapKey string, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				unauthorized(w, "invalid authorization header format")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				unauthorized(w, "empty bearer token")
				return
			}

			ctx := r.Context()
			log := zerolog.Ctx(ctx)

			if verifier != nil && looksLikeJWT(token) {
				principal, err := verifier.Verify(ctx, token)
				if err != nil {
					log.Warn().Err(err).Msg("rejected ID token")
					unauthorized(w, "invalid ID token")
					return
				}
				ctx = context.WithValue(ctx, PrincipalContextKey, principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Check if we have any API keys in the database
			keyCount, err := store.CountAPIKeys(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to count API keys")
				writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error")
				return
			}

			// If no keys exist and bootstrap key is set, allow bootstrap key
			if keyCount == 0 && bootstrapKey != "" {
				if subtle.ConstantTimeCompare([]byte(token), []byte(bootstrapKey)) == 1 {
					key := &domain.APIKey{ID: "bootstrap", Name: "Bootstrap Key"}
					ctx = context.WithValue(ctx, PrincipalContextKey, &domain.Principal{
						Kind: "bootstrap", Subject: key.ID, APIKey: key,
					})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			// Hash the provided key and look it up
			storedKey, err := store.GetAPIKeyByHash(ctx, HashAPIKey(token))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					unauthorized(w, "invalid API key")
					return
				}
				log.Error().Err(err).Msg("failed to look up API key")
				writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error")
				return
			}

			// Update last used timestamp (fire and forget)
			go func() {
				_ = store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
			}()

			ctx = context.WithValue(ctx, PrincipalContextKey, &domain.Principal{
				Kind: "api_key", Subject: storedKey.ID, APIKey: storedKey,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HashAPIKey creates a SHA-256 hash of the API key.
// We use SHA-256 for fast lookups since API keys are already high-entropy random strings.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GetPrincipalFromContext retrieves the authenticated caller.
func GetPrincipalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(PrincipalContextKey).(*domain.Principal)
	return p
}
