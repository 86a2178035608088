// Package rulekey builds and parses the composite keys that identify a
// benchmark rule inside the persisted rule states map.
package rulekey

import (
	"fmt"
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
)

// Separator joins the key components. It must not appear inside a component.
const Separator = ";"

// Key is the parsed form of a rule key.
type Key struct {
	BenchmarkID      string
	BenchmarkVersion string
	RuleNumber       string
}

// String renders the key.
func (k Key) String() string {
	return Build(k.BenchmarkID, k.BenchmarkVersion, k.RuleNumber)
}

// Build returns "<benchmarkID>;<benchmarkVersion>;<ruleNumber>".
func Build(benchmarkID, benchmarkVersion, ruleNumber string) string {
	return benchmarkID + Separator + benchmarkVersion + Separator + ruleNumber
}

// Parse splits a key produced by Build.
func Parse(key string) (Key, error) {
	parts := strings.Split(key, Separator)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: malformed rule key %q", domain.ErrInvalidInput, key)
	}
	return Key{BenchmarkID: parts[0], BenchmarkVersion: parts[1], RuleNumber: parts[2]}, nil
}

// Validate rejects components that would make Build ambiguous.
func Validate(benchmarkID, benchmarkVersion, ruleNumber string) error {
	for name, v := range map[string]string{
		"benchmark_id":      benchmarkID,
		"benchmark_version": benchmarkVersion,
		"rule_number":       ruleNumber,
	} {
		if strings.Contains(v, Separator) {
			return fmt.Errorf("%w: %s must not contain %q", domain.ErrInvalidInput, name, Separator)
		}
	}
	return nil
}

// ForRef builds the key of a bulk action rule reference.
func ForRef(ref domain.RuleRef) string {
	return Build(ref.BenchmarkID, ref.BenchmarkVersion, ref.RuleNumber)
}

// ForRule builds the key of a catalog rule.
func ForRule(rule *domain.BenchmarkRule) string {
	b := rule.Metadata.Benchmark
	return Build(b.ID, b.Version, b.RuleNumber)
}
