package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bcnelson/csp-rule-manager/internal/catalog"
	"github.com/bcnelson/csp-rule-manager/internal/detection"
	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/rulekey"
	"github.com/bcnelson/csp-rule-manager/internal/settings"
	"github.com/bcnelson/csp-rule-manager/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetection struct {
	mu       sync.Mutex
	rules    []domain.DetectionRuleRef
	findErr  error
	disErr   error
	disabled [][]string
}

func (f *fakeDetection) FindRules(ctx context.Context, tags []string, perPage int) ([]domain.DetectionRuleRef, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.DetectionRuleRef
	for _, r := range f.rules {
		if containsAll(r.Tags, tags) {
			out = append(out, r)
		}
		if len(out) == perPage {
			break
		}
	}
	return out, nil
}

func (f *fakeDetection) BulkDisable(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, ids)
	if f.disErr != nil {
		return 0, f.disErr
	}
	return len(ids), nil
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

var (
	ruleA = &domain.BenchmarkRule{
		ID: "rule-a",
		Metadata: domain.BenchmarkRuleMetadata{
			ID:      "meta-a",
			Name:    "Ensure anonymous auth is disabled",
			Section: "Kubelet",
			Version: "1.0",
			Benchmark: domain.Benchmark{
				ID: "cis_k8s", Name: "CIS Kubernetes", Version: "v1.0.1", RuleNumber: "1.1", PostureType: domain.PostureKSPM,
			},
		},
	}
	ruleB = &domain.BenchmarkRule{
		ID: "rule-b",
		Metadata: domain.BenchmarkRuleMetadata{
			ID:      "meta-b",
			Name:    "Ensure MFA is enabled for root",
			Section: "Identity and Access Management",
			Version: "1.0",
			Benchmark: domain.Benchmark{
				ID: "cis_aws", Name: "CIS AWS", Version: "v1.5.0", RuleNumber: "2.3", PostureType: domain.PostureCSPM,
			},
		},
	}
)

func refOf(rule *domain.BenchmarkRule) domain.RuleRef {
	b := rule.Metadata.Benchmark
	return domain.RuleRef{BenchmarkID: b.ID, BenchmarkVersion: b.Version, RuleNumber: b.RuleNumber, RuleID: rule.ID}
}

type fixture struct {
	svc     *BulkActionService
	adapter *settings.Adapter
	detect  *fakeDetection
	store   *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	logger := zerolog.Nop()
	cat := catalog.New(store, logger)
	require.NoError(t, cat.Seed(context.Background(), []*domain.BenchmarkRule{ruleA, ruleB}))

	detect := &fakeDetection{
		rules: []domain.DetectionRuleRef{{
			ID:      "det-1",
			Name:    "CIS Kubernetes 1.1",
			Enabled: true,
			Tags:    append(detection.GenerateTags(ruleA.Metadata), "Custom"),
		}},
	}
	adapter := settings.NewAdapter(store, logger)
	syncer := detection.NewSynchronizer(detect, 2, logger)
	return &fixture{
		svc:     NewBulkActionService(cat, adapter, syncer, logger),
		adapter: adapter,
		detect:  detect,
		store:   store,
	}
}

// settingsWriteStore overrides settings writes of the memory store.
type settingsWriteStore struct {
	*memory.Store
	// interleave, when set, runs just before each write.
	interleave func(ctx context.Context)
	err        error
}

func (s *settingsWriteStore) UpdateSettings(ctx context.Context, settings *domain.CspSettings, expectedVersion int64) error {
	if s.interleave != nil {
		s.interleave(ctx)
	}
	if s.err != nil {
		return s.err
	}
	return s.Store.UpdateSettings(ctx, settings, expectedVersion)
}

func newFixtureWithStore(t *testing.T, wrap func(*memory.Store) *settingsWriteStore) (*fixture, *settingsWriteStore) {
	t.Helper()
	f := newFixture(t)
	ws := wrap(f.store)
	logger := zerolog.Nop()
	f.adapter = settings.NewAdapter(ws, logger)
	f.svc = NewBulkActionService(catalog.New(ws, logger), f.adapter, detection.NewSynchronizer(f.detect, 2, logger), logger)
	return f, ws
}

func TestBulkSetRuleState_PersistFailureSkipsSync(t *testing.T) {
	boom := errors.New("database is locked")
	f, _ := newFixtureWithStore(t, func(m *memory.Store) *settingsWriteStore {
		return &settingsWriteStore{Store: m, err: boom}
	})

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA)},
	})
	require.Error(t, err)
	assert.Nil(t, result)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.detect.disabled, "detection rules must not be touched when the write fails")

	stored, err := f.store.GetSettings(context.Background(), domain.SettingsID)
	require.NoError(t, err)
	assert.Empty(t, stored.Rules)
}

func TestBulkSetRuleState_ConcurrentWriteConflict(t *testing.T) {
	f, ws := newFixtureWithStore(t, func(m *memory.Store) *settingsWriteStore {
		return &settingsWriteStore{Store: m}
	})
	// Another writer commits between our read and our write.
	ws.interleave = func(ctx context.Context) {
		ws.interleave = nil
		current, err := f.store.GetSettings(ctx, domain.SettingsID)
		require.NoError(t, err)
		require.NoError(t, f.store.UpdateSettings(ctx, &domain.CspSettings{ID: domain.SettingsID, Rules: domain.RulesStates{}}, current.Version))
	}

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA)},
	})
	assert.Nil(t, result)
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, f.detect.disabled)
}

func TestBulkSetRuleState_MuteDisablesMatchingDetectionRules(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA), refOf(ruleB)},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DisabledDetectionRules)
	assert.Empty(t, result.Warning)
	require.Len(t, f.detect.disabled, 1)
	assert.Equal(t, []string{"det-1"}, f.detect.disabled[0])

	stored, err := f.adapter.Get(context.Background())
	require.NoError(t, err)
	for _, rule := range []*domain.BenchmarkRule{ruleA, ruleB} {
		entry, ok := stored.Rules[rulekey.ForRule(rule)]
		require.True(t, ok, rule.ID)
		assert.True(t, entry.Muted)
		assert.Equal(t, rule.ID, entry.RuleID)
	}
	assert.Equal(t, stored.Version, result.UpdatedSettings.Version)
}

func TestBulkSetRuleState_UnmuteNeverDisables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleA)}})
	require.NoError(t, err)
	f.detect.disabled = nil

	result, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionUnmute, Rules: []domain.RuleRef{refOf(ruleA)}})
	require.NoError(t, err)

	assert.Equal(t, 0, result.DisabledDetectionRules)
	assert.Empty(t, f.detect.disabled)
	entry := result.UpdatedSettings.Rules[rulekey.ForRule(ruleA)]
	assert.False(t, entry.Muted)
}

func TestBulkSetRuleState_UnmuteCreatesMissingEntry(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionUnmute,
		Rules:  []domain.RuleRef{refOf(ruleB)},
	})
	require.NoError(t, err)

	entry, ok := result.UpdatedSettings.Rules[rulekey.ForRule(ruleB)]
	require.True(t, ok)
	assert.False(t, entry.Muted)
}

func TestBulkSetRuleState_UnknownRuleChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleB)}})
	require.NoError(t, err)
	before, err := f.adapter.Get(ctx)
	require.NoError(t, err)

	missing := domain.RuleRef{BenchmarkID: "cis_gcp", BenchmarkVersion: "v2.0.0", RuleNumber: "3.1", RuleID: "nope"}
	_, err = f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{
		Action: domain.ActionUnmute,
		Rules:  []domain.RuleRef{refOf(ruleA), refOf(ruleB), missing},
	})

	var unknown *domain.UnknownRuleError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"nope"}, unknown.MissingIDs)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	after, err := f.adapter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Rules, after.Rules)
}

func TestBulkSetRuleState_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleA), refOf(ruleB)}}

	first, err := f.svc.BulkSetRuleState(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.BulkSetRuleState(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.UpdatedSettings.Rules, second.UpdatedSettings.Rules)
	assert.Equal(t, first.UpdatedSettings.Version+1, second.UpdatedSettings.Version)
}

func TestBulkSetRuleState_SyncFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.detect.disErr = errors.New("kibana unavailable")

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA)},
	})

	var syncErr *domain.SynchronizationError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "disable", syncErr.Stage)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Warning)

	stored, err := f.adapter.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Rules[rulekey.ForRule(ruleA)].Muted)
}

func TestBulkSetRuleState_LookupFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.detect.findErr = errors.New("timeout")

	result, err := f.svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA)},
	})

	var syncErr *domain.SynchronizationError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "find", syncErr.Stage)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.DisabledDetectionRules)
	assert.Empty(t, f.detect.disabled)
}

func TestBulkSetRuleState_Validation(t *testing.T) {
	f := newFixture(t)
	mismatched := refOf(ruleA)
	mismatched.RuleNumber = "9.9"

	tests := []struct {
		name string
		req  domain.BulkActionRequest
	}{
		{"bad action", domain.BulkActionRequest{Action: "snooze", Rules: []domain.RuleRef{refOf(ruleA)}}},
		{"no rules", domain.BulkActionRequest{Action: domain.ActionMute}},
		{"separator in field", domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{{
			BenchmarkID: "cis_k8s", BenchmarkVersion: "v1;0", RuleNumber: "1.1", RuleID: "rule-a",
		}}}},
		{"catalog mismatch", domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{mismatched}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BulkSetRuleState(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	_, err := f.adapter.Get(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound, "no settings should be written")
}

func TestBulkSetRuleState_ExpectedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleB)}})
	require.NoError(t, err)

	stale := first.UpdatedSettings.Version - 1
	_, err = f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{
		Action:          domain.ActionUnmute,
		Rules:           []domain.RuleRef{refOf(ruleB)},
		ExpectedVersion: &stale,
	})
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	current := first.UpdatedSettings.Version
	result, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{
		Action:          domain.ActionUnmute,
		Rules:           []domain.RuleRef{refOf(ruleB)},
		ExpectedVersion: &current,
	})
	require.NoError(t, err)
	assert.False(t, result.UpdatedSettings.Rules[rulekey.ForRule(ruleB)].Muted)
}

func TestBulkSetRuleState_WithoutSynchronizer(t *testing.T) {
	f := newFixture(t)
	svc := NewBulkActionService(catalog.New(f.store, zerolog.Nop()), f.adapter, nil, zerolog.Nop())

	result, err := svc.BulkSetRuleState(context.Background(), domain.BulkActionRequest{
		Action: domain.ActionMute,
		Rules:  []domain.RuleRef{refOf(ruleA)},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.DisabledDetectionRules)
	assert.Empty(t, f.detect.disabled)
}

func TestRuleStatesReturnsMutedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleA)}})
	require.NoError(t, err)
	_, err = f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionUnmute, Rules: []domain.RuleRef{refOf(ruleB)}})
	require.NoError(t, err)

	states, err := f.svc.RuleStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states.Rules, 1)
	assert.Contains(t, states.Rules, rulekey.ForRule(ruleA))

	all, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.Len(t, all.Rules, 2)
}

func TestBenchmarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkSetRuleState(ctx, domain.BulkActionRequest{Action: domain.ActionMute, Rules: []domain.RuleRef{refOf(ruleA)}})
	require.NoError(t, err)

	summaries, err := f.svc.Benchmarks(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "cis_aws", summaries[0].ID)
	assert.Equal(t, domain.RulesStatus{All: 1, Muted: 0, Unmuted: 1}, summaries[0].Rules)
	assert.Equal(t, "cis_k8s", summaries[1].ID)
	assert.Equal(t, domain.RulesStatus{All: 1, Muted: 1, Unmuted: 0}, summaries[1].Rules)
}
