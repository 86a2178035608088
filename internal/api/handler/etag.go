package handler

import (
	"net/http"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/settings"
)

// setSettingsETag exposes the settings version as the response ETag.
func setSettingsETag(w http.ResponseWriter, s *domain.CspSettings) {
	w.Header().Set("ETag", settings.ETag(s))
}

// expectedVersion reads the If-Match header. A missing header or "*" means
// the caller does not require a particular version.
func expectedVersion(r *http.Request) (*int64, error) {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" || ifMatch == "*" {
		return nil, nil
	}
	version, err := settings.ParseETag(ifMatch)
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// checkIfNoneMatch reports whether the client already holds the current
// representation.
func checkIfNoneMatch(r *http.Request, s *domain.CspSettings) bool {
	return r.Header.Get("If-None-Match") == settings.ETag(s)
}
