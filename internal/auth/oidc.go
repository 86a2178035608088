package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier validates bearer ID tokens issued by an OIDC provider.
type OIDCVerifier struct {
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// OIDCClaims represents the claims from an ID token.
type OIDCClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewOIDCVerifier creates a verifier using provider discovery.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, allowedDomains []string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCVerifierFrom(provider.Verifier(&oidc.Config{ClientID: clientID}), allowedDomains), nil
}

// NewOIDCVerifierFrom wraps an existing go-oidc verifier.
func NewOIDCVerifierFrom(verifier *oidc.IDTokenVerifier, allowedDomains []string) *OIDCVerifier {
	return &OIDCVerifier{verifier: verifier, allowedDomains: allowedDomains}
}

// Verify checks the raw ID token and returns the caller it identifies.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*domain.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %v", domain.ErrUnauthorized, err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", domain.ErrUnauthorized, err)
	}
	if err := v.ValidateClaims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	return &domain.Principal{
		Kind:    "oidc",
		Subject: idToken.Subject,
		Email:   claims.Email,
	}, nil
}

// ValidateClaims checks if the claims meet requirements (e.g., domain restriction).
func (v *OIDCVerifier) ValidateClaims(claims *OIDCClaims) error {
	if len(v.allowedDomains) == 0 {
		return nil
	}
	if claims.Email == "" {
		return fmt.Errorf("email claim is required")
	}
	// Domain restriction only applies to verified addresses.
	if !claims.EmailVerified {
		return fmt.Errorf("email %s is not verified", claims.Email)
	}

	emailParts := strings.Split(claims.Email, "@")
	if len(emailParts) != 2 {
		return fmt.Errorf("invalid email format")
	}
	emailDomain := strings.ToLower(emailParts[1])

	for _, d := range v.allowedDomains {
		if strings.ToLower(d) == emailDomain {
			return nil
		}
	}
	return fmt.Errorf("email domain %s is not allowed", emailDomain)
}
