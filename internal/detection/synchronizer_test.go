package detection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	mu        sync.Mutex
	byTag     map[string]domain.DetectionRuleRef
	findErr   error
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	disables  [][]string
}

func (c *stubClient) FindRules(ctx context.Context, tags []string, perPage int) ([]domain.DetectionRuleRef, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxFlight.Load()
		if n <= m || c.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if c.findErr != nil {
		return nil, c.findErr
	}
	if ref, ok := c.byTag[strings.Join(tags, "|")]; ok {
		return []domain.DetectionRuleRef{ref, {ID: "extra"}}, nil
	}
	return nil, nil
}

func (c *stubClient) BulkDisable(ctx context.Context, ids []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disables = append(c.disables, ids)
	return len(ids), nil
}

func TestFindMatchingKeepsOrderAndTakesFirst(t *testing.T) {
	client := &stubClient{byTag: map[string]domain.DetectionRuleRef{
		"a":   {ID: "det-a"},
		"c|d": {ID: "det-c"},
	}}
	s := NewSynchronizer(client, 2, zerolog.Nop())

	refs, err := s.FindMatching(context.Background(), [][]string{{"a"}, {"b"}, {"c", "d"}})
	require.NoError(t, err)

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"det-a", "det-c"}, ids)
	assert.LessOrEqual(t, client.maxFlight.Load(), int32(2))
}

func TestFindMatchingError(t *testing.T) {
	client := &stubClient{findErr: errors.New("boom")}
	s := NewSynchronizer(client, 0, zerolog.Nop())

	_, err := s.FindMatching(context.Background(), [][]string{{"a"}})
	assert.Error(t, err)
}

func TestDisable(t *testing.T) {
	client := &stubClient{}
	s := NewSynchronizer(client, 1, zerolog.Nop())

	n, err := s.Disable(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, client.disables, "empty list must not reach the client")

	n, err = s.Disable(context.Background(), []domain.DetectionRuleRef{{ID: "x"}, {ID: "y"}, {ID: "x"}, {ID: ""}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, client.disables, 1)
	assert.Equal(t, []string{"x", "y"}, client.disables[0])
}

func TestMuteRules(t *testing.T) {
	rule := &domain.BenchmarkRule{ID: "r1", Metadata: meta("cis_k8s", "1.1", domain.PostureKSPM)}
	client := &stubClient{byTag: map[string]domain.DetectionRuleRef{
		strings.Join(GenerateTags(rule.Metadata), "|"): {ID: "det-1"},
	}}
	s := NewSynchronizer(client, 4, zerolog.Nop())

	n, err := s.MuteRules(context.Background(), []*domain.BenchmarkRule{rule})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	client.findErr = errors.New("down")
	_, err = s.MuteRules(context.Background(), []*domain.BenchmarkRule{rule})
	var syncErr *domain.SynchronizationError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "find", syncErr.Stage)
}
