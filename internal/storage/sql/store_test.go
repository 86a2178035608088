package sql

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("sqlite3", filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rule(id, benchmark, version, number, name string) *domain.BenchmarkRule {
	return &domain.BenchmarkRule{
		ID: id,
		Metadata: domain.BenchmarkRuleMetadata{
			ID:      "meta-" + id,
			Name:    name,
			Section: "Section " + number[:1],
			Version: "1.0",
			Tags:    []string{"CIS"},
			Benchmark: domain.Benchmark{
				ID: benchmark, Name: benchmark, Version: version, RuleNumber: number, PostureType: domain.PostureKSPM,
			},
		},
	}
}

func TestAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &domain.APIKey{ID: "k1", Name: "ci", KeyHash: "hash", KeyPrefix: "csp_1234", CreatedAt: time.Now()}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, &domain.APIKey{ID: "k2", Name: "dup", KeyHash: "hash", CreatedAt: time.Now()}), domain.ErrAlreadyExists)

	got, err := s.GetAPIKeyByHash(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Name)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, "k1"))
	count, err := s.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, s.DeleteAPIKey(ctx, "k1"), domain.ErrNotFound)
	_, err = s.GetAPIKeyByHash(ctx, "hash")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBenchmarkRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	for _, r := range []*domain.BenchmarkRule{
		rule("a", "cis_k8s", "v1", "1.1", "Alpha"),
		rule("b", "cis_k8s", "v1", "1.2", "Beta"),
		rule("c", "cis_aws", "v2", "2.1", "Gamma"),
	} {
		require.NoError(t, tx.UpsertBenchmarkRule(ctx, r))
	}
	require.NoError(t, tx.Commit())

	// Upsert replaces metadata in place.
	require.NoError(t, s.UpsertBenchmarkRule(ctx, rule("a", "cis_k8s", "v1", "1.1", "Alpha renamed")))
	got, err := s.GetBenchmarkRule(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha renamed", got.Metadata.Name)
	assert.Equal(t, []string{"CIS"}, got.Metadata.Tags)

	_, err = s.GetBenchmarkRule(ctx, "zzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bulk, err := s.GetBenchmarkRules(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	assert.Len(t, bulk, 2)
	assert.Contains(t, bulk, "c")

	rules, total, err := s.FindBenchmarkRules(ctx, domain.FindRulesRequest{
		BenchmarkID: "cis_k8s", SortField: domain.SortByRuleNumber, SortOrder: "desc", Page: 1, PerPage: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rules, 1)
	assert.Equal(t, "b", rules[0].ID)

	rules, total, err = s.FindBenchmarkRules(ctx, domain.FindRulesRequest{Search: "GAM", Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c", rules[0].ID)

	summaries, err := s.ListBenchmarks(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "cis_aws", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].Rules.All)
	assert.Equal(t, "cis_k8s", summaries[1].ID)
	assert.Equal(t, 2, summaries[1].Rules.All)
}

func TestSettingsVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSettings(ctx, domain.SettingsID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Now()
	created := &domain.CspSettings{ID: domain.SettingsID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateSettings(ctx, created))
	assert.Equal(t, int64(1), created.Version)
	assert.ErrorIs(t, s.CreateSettings(ctx, &domain.CspSettings{ID: domain.SettingsID}), domain.ErrAlreadyExists)

	next := &domain.CspSettings{
		ID:    domain.SettingsID,
		Rules: domain.RulesStates{"cis_k8s;v1;1.1": {Muted: true, RuleID: "a"}},
	}
	require.NoError(t, s.UpdateSettings(ctx, next, 1))
	assert.Equal(t, int64(2), next.Version)

	assert.ErrorIs(t, s.UpdateSettings(ctx, next, 1), domain.ErrConflict)
	assert.ErrorIs(t, s.UpdateSettings(ctx, &domain.CspSettings{ID: "other"}, 1), domain.ErrNotFound)

	got, err := s.GetSettings(ctx, domain.SettingsID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Rules["cis_k8s;v1;1.1"].Muted)
}

func TestMigrateLogsThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), zerolog.New(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	out := buf.String()
	assert.NotEmpty(t, out)
	assert.Contains(t, out, `"component":"storage"`)
	assert.Contains(t, out, `"subsystem":"migrations"`)
	assert.Contains(t, out, "successfully migrated database")
}
