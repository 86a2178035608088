package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/catalog"
	"github.com/bcnelson/csp-rule-manager/internal/detection"
	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/metrics"
	"github.com/bcnelson/csp-rule-manager/internal/rulestate"
	"github.com/bcnelson/csp-rule-manager/internal/settings"
	"github.com/bcnelson/csp-rule-manager/internal/validation"
	"github.com/rs/zerolog"
)

// State is a step of a bulk action.
type State string

const (
	StateValidating    State = "validating"
	StatePersisting    State = "persisting"
	StateSynchronizing State = "synchronizing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// BulkActionService mutes and unmutes benchmark rules.
type BulkActionService struct {
	catalog  *catalog.Catalog
	settings *settings.Adapter
	sync     *detection.Synchronizer
	logger   zerolog.Logger
}

// NewBulkActionService creates a new BulkActionService. sync may be nil, in
// which case muting does not touch detection rules.
func NewBulkActionService(cat *catalog.Catalog, adapter *settings.Adapter, sync *detection.Synchronizer, logger zerolog.Logger) *BulkActionService {
	return &BulkActionService{
		catalog:  cat,
		settings: adapter,
		sync:     sync,
		logger:   logger.With().Str("component", "bulk_action").Logger(),
	}
}

// loggerFor prefers the request scoped logger stored in ctx.
func (s *BulkActionService) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// BulkSetRuleState applies a mute or unmute action to a set of rules.
//
// Nothing is written unless every rule resolves against the catalog. Once the
// new states are persisted they are kept even if disabling detection rules
// fails; in that case the result is returned together with a
// *domain.SynchronizationError.
func (s *BulkActionService) BulkSetRuleState(ctx context.Context, req domain.BulkActionRequest) (*domain.BulkActionResult, error) {
	start := time.Now()
	log := s.loggerFor(ctx).With().Str("action", string(req.Action)).Int("rules", len(req.Rules)).Logger()

	transition := func(state State) {
		log.Debug().Str("state", string(state)).Msg("bulk action state")
	}
	fail := func(outcome string, err error) (*domain.BulkActionResult, error) {
		transition(StateFailed)
		metrics.BulkActionsTotal.WithLabelValues(string(req.Action), outcome).Inc()
		return nil, err
	}

	// Validating
	transition(StateValidating)
	if err := validation.ValidateBulkActionRequest(&req); err != nil {
		return fail("invalid", err)
	}
	muted, _ := req.Action.Muted()

	ids := make([]string, len(req.Rules))
	for i, ref := range req.Rules {
		ids[i] = ref.RuleID
	}
	rules, err := s.catalog.Resolve(ctx, ids)
	if err != nil {
		var unknown *domain.UnknownRuleError
		if errors.As(err, &unknown) {
			log.Warn().Strs("missing_ids", unknown.MissingIDs).Msg("bulk action references unknown rules")
			return fail("unknown_rule", err)
		}
		log.Error().Err(err).Msg("failed to resolve benchmark rules")
		return fail("error", err)
	}
	if err := matchCatalog(req.Rules, rules); err != nil {
		return fail("invalid", err)
	}

	// Persisting
	transition(StatePersisting)
	current, err := s.settings.GetSafe(ctx)
	if err != nil {
		return fail("persistence_error", err)
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return fail("precondition_failed", fmt.Errorf("%w: settings version is %d, expected %d",
			domain.ErrPreconditionFailed, current.Version, *req.ExpectedVersion))
	}
	next := rulestate.SetRulesStates(current.Rules, req.Rules, muted)
	updated, err := s.settings.Update(ctx, current, next)
	if err != nil {
		return fail("persistence_error", err)
	}
	metrics.RulesUpdatedTotal.WithLabelValues(string(req.Action)).Add(float64(len(req.Rules)))

	result := &domain.BulkActionResult{UpdatedSettings: updated}

	// Synchronizing
	if muted && s.sync != nil {
		transition(StateSynchronizing)
		disabled, err := s.sync.MuteRules(ctx, rules)
		result.DisabledDetectionRules = disabled
		metrics.DetectionRulesDisabledTotal.Add(float64(disabled))
		if err != nil {
			stage := "unknown"
			var syncErr *domain.SynchronizationError
			if errors.As(err, &syncErr) {
				stage = syncErr.Stage
			}
			metrics.SyncFailuresTotal.WithLabelValues(stage).Inc()
			log.Warn().Err(err).Int("disabled", disabled).Msg("rule states saved but detection rules were not fully disabled")
			result.Warning = err.Error()
			metrics.BulkActionsTotal.WithLabelValues(string(req.Action), "sync_failed").Inc()
			return result, err
		}
	}

	transition(StateDone)
	metrics.BulkActionsTotal.WithLabelValues(string(req.Action), "success").Inc()
	metrics.BulkActionDuration.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	log.Info().
		Int64("settings_version", updated.Version).
		Int("disabled_detection_rules", result.DisabledDetectionRules).
		Msg("bulk action applied")
	return result, nil
}

// matchCatalog rejects references whose benchmark coordinates disagree with
// the catalog rule they name.
func matchCatalog(refs []domain.RuleRef, rules []*domain.BenchmarkRule) error {
	var errs validation.ValidationErrors
	for i, ref := range refs {
		b := rules[i].Metadata.Benchmark
		prefix := fmt.Sprintf("rules[%d]", i)
		if ref.BenchmarkID != b.ID {
			errs.Add(prefix+".benchmark_id", ref.BenchmarkID, fmt.Sprintf("rule %s belongs to benchmark %s", ref.RuleID, b.ID))
		}
		if ref.BenchmarkVersion != b.Version {
			errs.Add(prefix+".benchmark_version", ref.BenchmarkVersion, fmt.Sprintf("rule %s belongs to version %s", ref.RuleID, b.Version))
		}
		if ref.RuleNumber != b.RuleNumber {
			errs.Add(prefix+".rule_number", ref.RuleNumber, fmt.Sprintf("rule %s has number %s", ref.RuleID, b.RuleNumber))
		}
	}
	return errs.Err()
}

// RuleStates returns the settings record restricted to muted rules.
func (s *BulkActionService) RuleStates(ctx context.Context) (*domain.CspSettings, error) {
	current, err := s.settings.GetSafe(ctx)
	if err != nil {
		return nil, err
	}
	current.Rules = rulestate.Muted(current.Rules)
	return current, nil
}

// Settings returns the full settings record, creating it if needed.
func (s *BulkActionService) Settings(ctx context.Context) (*domain.CspSettings, error) {
	return s.settings.GetSafe(ctx)
}

// Benchmarks summarizes the catalog per benchmark version with mute counts.
func (s *BulkActionService) Benchmarks(ctx context.Context) ([]*domain.BenchmarkSummary, error) {
	current, err := s.settings.GetSafe(ctx)
	if err != nil {
		return nil, err
	}
	return s.catalog.Summaries(ctx, current.Rules)
}
