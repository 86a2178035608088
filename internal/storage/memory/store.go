package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys  map[string]*domain.APIKey        // key: id
	rules    map[string]*domain.BenchmarkRule // key: rule id
	settings map[string]*domain.CspSettings   // key: settings id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:  make(map[string]*domain.APIKey),
		rules:    make(map[string]*domain.BenchmarkRule),
		settings: make(map[string]*domain.CspSettings),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for in-memory store. Writes are applied
// immediately and Rollback does not undo them.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			k := *key
			return &k, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		k := *key
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Benchmark Rules
// ============================================

func copyRule(rule *domain.BenchmarkRule) *domain.BenchmarkRule {
	c := *rule
	c.Metadata.Tags = append([]string(nil), rule.Metadata.Tags...)
	return &c
}

func (s *Store) UpsertBenchmarkRule(ctx context.Context, rule *domain.BenchmarkRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) GetBenchmarkRule(ctx context.Context, id string) (*domain.BenchmarkRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRule(rule), nil
}

func (s *Store) GetBenchmarkRules(ctx context.Context, ids []string) (map[string]*domain.BenchmarkRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.BenchmarkRule, len(ids))
	for _, id := range ids {
		if rule, ok := s.rules[id]; ok {
			out[id] = copyRule(rule)
		}
	}
	return out, nil
}

func sortValue(rule *domain.BenchmarkRule, field string) string {
	m := rule.Metadata
	switch field {
	case domain.SortByName:
		return m.Name
	case domain.SortBySection:
		return m.Section
	case domain.SortByID:
		return m.ID
	case domain.SortByVersion:
		return m.Version
	case domain.SortByBenchmarkID:
		return m.Benchmark.ID
	case domain.SortByBenchmark:
		return m.Benchmark.Name
	case domain.SortByPostureType:
		return string(m.Benchmark.PostureType)
	case domain.SortByBenchmarkV:
		return m.Benchmark.Version
	default:
		return m.Benchmark.RuleNumber
	}
}

func (s *Store) FindBenchmarkRules(ctx context.Context, req domain.FindRulesRequest) ([]*domain.BenchmarkRule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(req.Search)
	var matched []*domain.BenchmarkRule
	for _, rule := range s.rules {
		if req.BenchmarkID != "" && rule.Metadata.Benchmark.ID != req.BenchmarkID {
			continue
		}
		if req.Section != "" && rule.Metadata.Section != req.Section {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rule.Metadata.Name), search) {
			continue
		}
		matched = append(matched, rule)
	}

	desc := req.SortOrder == "desc"
	sort.Slice(matched, func(i, j int) bool {
		a, b := sortValue(matched[i], req.SortField), sortValue(matched[j], req.SortField)
		if a == b {
			return matched[i].ID < matched[j].ID
		}
		if desc {
			return a > b
		}
		return a < b
	})

	total := len(matched)
	start := (req.Page - 1) * req.PerPage
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + req.PerPage
	if end > total {
		end = total
	}

	page := make([]*domain.BenchmarkRule, 0, end-start)
	for _, rule := range matched[start:end] {
		page = append(page, copyRule(rule))
	}
	return page, total, nil
}

func (s *Store) ListBenchmarks(ctx context.Context) ([]*domain.BenchmarkSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := make(map[[2]string]*domain.BenchmarkSummary)
	for _, rule := range s.rules {
		b := rule.Metadata.Benchmark
		key := [2]string{b.ID, b.Version}
		summary, ok := byKey[key]
		if !ok {
			summary = &domain.BenchmarkSummary{ID: b.ID, Name: b.Name, Version: b.Version, PostureType: b.PostureType}
			byKey[key] = summary
		}
		summary.Rules.All++
	}

	out := make([]*domain.BenchmarkSummary, 0, len(byKey))
	for _, summary := range byKey {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ============================================
// Settings
// ============================================

func copySettings(settings *domain.CspSettings) *domain.CspSettings {
	c := *settings
	c.Rules = settings.Rules.Clone()
	return &c
}

func (s *Store) GetSettings(ctx context.Context, id string) (*domain.CspSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySettings(settings), nil
}

func (s *Store) CreateSettings(ctx context.Context, settings *domain.CspSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.settings[settings.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if settings.Rules == nil {
		settings.Rules = domain.RulesStates{}
	}
	if settings.Version == 0 {
		settings.Version = 1
	}
	s.settings[settings.ID] = copySettings(settings)
	return nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings *domain.CspSettings, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.settings[settings.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}
	settings.Version = expectedVersion + 1
	settings.CreatedAt = stored.CreatedAt
	settings.UpdatedAt = time.Now()
	s.settings[settings.ID] = copySettings(settings)
	return nil
}
