// Package rulestate merges mute/unmute requests into the persisted rule
// states map. All functions are pure: inputs are never modified.
package rulestate

import (
	"sort"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/rulekey"
)

// SetRulesStates returns a new map in which every rule in updates carries the
// given muted flag. Existing entries for other rules are preserved.
func SetRulesStates(current domain.RulesStates, updates []domain.RuleRef, muted bool) domain.RulesStates {
	next := current.Clone()
	for _, ref := range updates {
		next[rulekey.ForRef(ref)] = domain.RuleStateEntry{
			Muted:            muted,
			BenchmarkID:      ref.BenchmarkID,
			BenchmarkVersion: ref.BenchmarkVersion,
			RuleNumber:       ref.RuleNumber,
			RuleID:           ref.RuleID,
		}
	}
	return next
}

// Muted returns only the muted entries.
func Muted(states domain.RulesStates) domain.RulesStates {
	out := make(domain.RulesStates)
	for k, v := range states {
		if v.Muted {
			out[k] = v
		}
	}
	return out
}

// Lookup returns the state of a single rule.
func Lookup(states domain.RulesStates, benchmarkID, benchmarkVersion, ruleNumber string) (domain.RuleStateEntry, bool) {
	entry, ok := states[rulekey.Build(benchmarkID, benchmarkVersion, ruleNumber)]
	return entry, ok
}

// MutedKeys returns the sorted keys of all muted rules.
func MutedKeys(states domain.RulesStates) []string {
	var keys []string
	for k, v := range states {
		if v.Muted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// CountMuted counts muted rules per benchmark id and version.
func CountMuted(states domain.RulesStates) map[[2]string]int {
	counts := make(map[[2]string]int)
	for _, v := range states {
		if v.Muted {
			counts[[2]string{v.BenchmarkID, v.BenchmarkVersion}]++
		}
	}
	return counts
}
