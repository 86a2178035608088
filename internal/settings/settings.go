// Package settings reads and writes the singleton settings record that holds
// the mute state of every benchmark rule.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/metrics"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/rs/zerolog"
)

// Adapter wraps the storage layer for the settings singleton.
type Adapter struct {
	store  storage.Storage
	logger zerolog.Logger
}

// NewAdapter creates a new Adapter.
func NewAdapter(store storage.Storage, logger zerolog.Logger) *Adapter {
	return &Adapter{
		store:  store,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Get fetches the settings record. It returns domain.ErrNotFound if the
// record has not been created yet.
func (a *Adapter) Get(ctx context.Context) (*domain.CspSettings, error) {
	return a.store.GetSettings(ctx, domain.SettingsID)
}

// GetSafe fetches the settings record and creates an empty one when it does
// not exist. Other failures are returned as *domain.PersistenceError.
func (a *Adapter) GetSafe(ctx context.Context) (*domain.CspSettings, error) {
	current, err := a.Get(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		a.logger.Error().Err(err).Msg("failed to read settings")
		return nil, &domain.PersistenceError{Op: "get settings", Err: err}
	}

	now := time.Now()
	created := &domain.CspSettings{
		ID:        domain.SettingsID,
		Rules:     domain.RulesStates{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = a.store.CreateSettings(ctx, created)
	switch {
	case err == nil:
		a.logger.Info().Msg("created settings record")
		return created, nil
	case errors.Is(err, domain.ErrAlreadyExists):
		// Another request created it first.
		current, err = a.Get(ctx)
		if err == nil {
			return current, nil
		}
	}
	a.logger.Error().Err(err).Msg("failed to create settings")
	return nil, &domain.PersistenceError{Op: "create settings", Err: err}
}

// Update replaces the rule states of current if the stored version still
// equals current.Version. A version mismatch is returned as a
// *domain.PersistenceError wrapping domain.ErrConflict. The returned record
// is the one this call wrote, even if another writer follows immediately.
func (a *Adapter) Update(ctx context.Context, current *domain.CspSettings, rules domain.RulesStates) (*domain.CspSettings, error) {
	expectedVersion := current.Version
	next := &domain.CspSettings{
		ID:        domain.SettingsID,
		Rules:     rules,
		CreatedAt: current.CreatedAt,
	}
	if err := a.store.UpdateSettings(ctx, next, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.SettingsConflicts.Inc()
			a.logger.Warn().Int64("expected_version", expectedVersion).Msg("settings were modified concurrently")
		} else {
			a.logger.Error().Err(err).Msg("failed to update settings")
		}
		return nil, &domain.PersistenceError{Op: "update settings", Err: err}
	}
	return next, nil
}

// ETag renders the version of a settings record as an HTTP entity tag.
func ETag(s *domain.CspSettings) string {
	return fmt.Sprintf(`"%s-%d"`, domain.SettingsType, s.Version)
}

// ParseETag extracts the version from an entity tag produced by ETag. Weak
// validators are accepted.
func ParseETag(tag string) (int64, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	tag = strings.Trim(tag, `"`)
	raw, ok := strings.CutPrefix(tag, domain.SettingsType+"-")
	if !ok {
		return 0, fmt.Errorf("%w: unrecognized entity tag %q", domain.ErrPreconditionFailed, tag)
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 1 {
		return 0, fmt.Errorf("%w: unrecognized entity tag %q", domain.ErrPreconditionFailed, tag)
	}
	return version, nil
}
