package rulestate_test

import (
	"testing"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/rulestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(bench, version, number, id string) domain.RuleRef {
	return domain.RuleRef{BenchmarkID: bench, BenchmarkVersion: version, RuleNumber: number, RuleID: id}
}

func TestSetRulesStates_CreatesMissingEntries(t *testing.T) {
	current := domain.RulesStates{}

	muted := rulestate.SetRulesStates(current, []domain.RuleRef{ref("cis_k8s", "v1", "1.1", "a")}, true)
	entry, ok := rulestate.Lookup(muted, "cis_k8s", "v1", "1.1")
	require.True(t, ok)
	assert.True(t, entry.Muted)
	assert.Equal(t, "a", entry.RuleID)

	unmuted := rulestate.SetRulesStates(current, []domain.RuleRef{ref("cis_k8s", "v1", "1.2", "b")}, false)
	entry, ok = rulestate.Lookup(unmuted, "cis_k8s", "v1", "1.2")
	require.True(t, ok)
	assert.False(t, entry.Muted)
}

func TestSetRulesStates_DoesNotMutateInput(t *testing.T) {
	current := domain.RulesStates{
		"cis_k8s;v1;1.1": {Muted: false, BenchmarkID: "cis_k8s", BenchmarkVersion: "v1", RuleNumber: "1.1", RuleID: "a"},
	}

	next := rulestate.SetRulesStates(current, []domain.RuleRef{ref("cis_k8s", "v1", "1.1", "a")}, true)

	assert.False(t, current["cis_k8s;v1;1.1"].Muted)
	assert.True(t, next["cis_k8s;v1;1.1"].Muted)
}

func TestSetRulesStates_PreservesOtherEntries(t *testing.T) {
	current := domain.RulesStates{
		"cis_aws;v1.5;2.1": {Muted: true, BenchmarkID: "cis_aws", BenchmarkVersion: "v1.5", RuleNumber: "2.1", RuleID: "x"},
	}

	next := rulestate.SetRulesStates(current, []domain.RuleRef{ref("cis_k8s", "v1", "1.1", "a")}, true)

	assert.Len(t, next, 2)
	assert.True(t, next["cis_aws;v1.5;2.1"].Muted)
}

func TestSetRulesStates_Idempotent(t *testing.T) {
	refs := []domain.RuleRef{ref("cis_k8s", "v1", "1.1", "a"), ref("cis_k8s", "v1", "1.2", "b")}
	for _, muted := range []bool{true, false} {
		once := rulestate.SetRulesStates(domain.RulesStates{}, refs, muted)
		twice := rulestate.SetRulesStates(once, refs, muted)
		assert.Equal(t, once, twice)
	}
}

func TestMuted(t *testing.T) {
	states := domain.RulesStates{
		"a;1;1": {Muted: true, BenchmarkID: "a", BenchmarkVersion: "1"},
		"a;1;2": {Muted: false, BenchmarkID: "a", BenchmarkVersion: "1"},
		"b;2;1": {Muted: true, BenchmarkID: "b", BenchmarkVersion: "2"},
	}

	muted := rulestate.Muted(states)
	assert.Len(t, muted, 2)
	assert.NotContains(t, muted, "a;1;2")
	assert.Equal(t, []string{"a;1;1", "b;2;1"}, rulestate.MutedKeys(states))

	counts := rulestate.CountMuted(states)
	assert.Equal(t, 1, counts[[2]string{"a", "1"}])
	assert.Equal(t, 1, counts[[2]string{"b", "2"}])
}
