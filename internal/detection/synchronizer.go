package detection

import (
	"context"
	"fmt"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultLookupConcurrency bounds parallel FindRules calls.
const DefaultLookupConcurrency = 4

// Synchronizer finds and disables the detection rules of benchmark rules.
type Synchronizer struct {
	client      Client
	concurrency int
	logger      zerolog.Logger
}

// NewSynchronizer creates a new Synchronizer.
func NewSynchronizer(client Client, concurrency int, logger zerolog.Logger) *Synchronizer {
	if concurrency <= 0 {
		concurrency = DefaultLookupConcurrency
	}
	return &Synchronizer{
		client:      client,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "detection_sync").Logger(),
	}
}

// TagSets returns the generated tag set of every rule, in order.
func TagSets(rules []*domain.BenchmarkRule) [][]string {
	sets := make([][]string, len(rules))
	for i, rule := range rules {
		sets[i] = GenerateTags(rule.Metadata)
	}
	return sets
}

// FindMatching looks up at most one detection rule per tag set. Results keep
// the order of tagSets; sets without a match contribute nothing.
func (s *Synchronizer) FindMatching(ctx context.Context, tagSets [][]string) ([]domain.DetectionRuleRef, error) {
	found := make([][]domain.DetectionRuleRef, len(tagSets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, tags := range tagSets {
		g.Go(func() error {
			refs, err := s.client.FindRules(gctx, tags, 1)
			if err != nil {
				return fmt.Errorf("finding detection rules for %s: %w", TagsToKQL(tags), err)
			}
			if len(refs) > 1 {
				refs = refs[:1]
			}
			found[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.DetectionRuleRef
	for _, refs := range found {
		out = append(out, refs...)
	}
	s.logger.Debug().Int("tag_sets", len(tagSets)).Int("matched", len(out)).Msg("detection rule lookup finished")
	return out, nil
}

// Disable disables the referenced rules and returns the count disabled.
// Duplicate ids are sent once. An empty list does not call the client.
func (s *Synchronizer) Disable(ctx context.Context, refs []domain.DetectionRuleRef) (int, error) {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	disabled, err := s.client.BulkDisable(ctx, ids)
	if err != nil {
		return disabled, fmt.Errorf("disabling detection rules: %w", err)
	}
	s.logger.Info().Int("requested", len(ids)).Int("disabled", disabled).Msg("detection rules disabled")
	return disabled, nil
}

// MuteRules finds and disables the detection rules linked to the benchmark
// rules. The returned SynchronizationError carries the failed stage.
func (s *Synchronizer) MuteRules(ctx context.Context, rules []*domain.BenchmarkRule) (int, error) {
	refs, err := s.FindMatching(ctx, TagSets(rules))
	if err != nil {
		return 0, &domain.SynchronizationError{Stage: "find", Err: err}
	}
	disabled, err := s.Disable(ctx, refs)
	if err != nil {
		return disabled, &domain.SynchronizationError{Stage: "disable", Disabled: disabled, Err: err}
	}
	return disabled, nil
}
