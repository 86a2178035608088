// Package catalog provides read access to the benchmark rule catalog and
// loads it from rule definition files.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/rulestate"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/bcnelson/csp-rule-manager/internal/validation"
	"github.com/rs/zerolog"
)

// Catalog resolves benchmark rules from storage.
type Catalog struct {
	store  storage.Storage
	logger zerolog.Logger
}

// New creates a new Catalog.
func New(store storage.Storage, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:  store,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// BulkGet looks up every id and reports a per-id outcome, in request order.
// Ids that do not exist carry domain.ErrNotFound.
func (c *Catalog) BulkGet(ctx context.Context, ids []string) ([]domain.RuleLookup, error) {
	found, err := c.store.GetBenchmarkRules(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching benchmark rules: %w", err)
	}
	out := make([]domain.RuleLookup, len(ids))
	for i, id := range ids {
		if rule, ok := found[id]; ok {
			out[i] = domain.RuleLookup{ID: id, Rule: rule}
		} else {
			out[i] = domain.RuleLookup{ID: id, Err: domain.ErrNotFound}
		}
	}
	return out, nil
}

// Resolve returns the rules for ids in request order. If any id is missing
// it returns a *domain.UnknownRuleError listing all of them.
func (c *Catalog) Resolve(ctx context.Context, ids []string) ([]*domain.BenchmarkRule, error) {
	lookups, err := c.BulkGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	rules := make([]*domain.BenchmarkRule, 0, len(lookups))
	var missing []string
	for _, l := range lookups {
		if !l.Found() {
			missing = append(missing, l.ID)
			continue
		}
		rules = append(rules, l.Rule)
	}
	if len(missing) > 0 {
		return nil, &domain.UnknownRuleError{MissingIDs: missing}
	}
	return rules, nil
}

// Get returns a single rule.
func (c *Catalog) Get(ctx context.Context, id string) (*domain.BenchmarkRule, error) {
	return c.store.GetBenchmarkRule(ctx, id)
}

// Find returns a page of rules. Missing paging and sort fields get defaults.
func (c *Catalog) Find(ctx context.Context, req domain.FindRulesRequest) (*domain.FindRulesResponse, error) {
	if err := validation.NormalizeFindRulesRequest(&req); err != nil {
		return nil, err
	}
	rules, total, err := c.store.FindBenchmarkRules(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("finding benchmark rules: %w", err)
	}
	if rules == nil {
		rules = []*domain.BenchmarkRule{}
	}
	return &domain.FindRulesResponse{
		Items:   rules,
		Total:   total,
		Page:    req.Page,
		PerPage: req.PerPage,
	}, nil
}

// Summaries lists every benchmark version with its rule counts split by the
// given mute states.
func (c *Catalog) Summaries(ctx context.Context, states domain.RulesStates) ([]*domain.BenchmarkSummary, error) {
	summaries, err := c.store.ListBenchmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing benchmarks: %w", err)
	}
	muted := rulestate.CountMuted(states)
	for _, s := range summaries {
		s.Rules.Muted = muted[[2]string{s.ID, s.Version}]
		if s.Rules.Muted > s.Rules.All {
			s.Rules.Muted = s.Rules.All
		}
		s.Rules.Unmuted = s.Rules.All - s.Rules.Muted
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].ID == summaries[j].ID {
			return summaries[i].Version < summaries[j].Version
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}
