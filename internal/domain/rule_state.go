package domain

import (
	"fmt"
	"time"
)

// Identity of the singleton settings record.
const (
	SettingsType = "csp-settings"
	SettingsID   = "csp-internal-settings"
)

// RuleStateEntry is the persisted mute state of one benchmark rule.
type RuleStateEntry struct {
	Muted            bool   `json:"muted"`
	BenchmarkID      string `json:"benchmark_id"`
	BenchmarkVersion string `json:"benchmark_version"`
	RuleNumber       string `json:"rule_number"`
	RuleID           string `json:"rule_id"`
}

// RulesStates maps a rule key (see package rulekey) to its state.
type RulesStates map[string]RuleStateEntry

// Clone returns a shallow copy of the map.
func (s RulesStates) Clone() RulesStates {
	out := make(RulesStates, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CspSettings is the singleton settings record holding all rule states.
// Version increases on every write and backs optimistic concurrency.
type CspSettings struct {
	ID        string      `json:"id"`
	Rules     RulesStates `json:"rules"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BulkAction is the operation applied by a bulk action request.
type BulkAction string

const (
	ActionMute   BulkAction = "mute"
	ActionUnmute BulkAction = "unmute"
)

// Muted returns the state the action sets.
func (a BulkAction) Muted() (bool, error) {
	switch a {
	case ActionMute:
		return true, nil
	case ActionUnmute:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unsupported action %q", ErrInvalidInput, string(a))
	}
}

// RuleRef identifies one rule in a bulk action request.
type RuleRef struct {
	BenchmarkID      string `json:"benchmark_id"`
	BenchmarkVersion string `json:"benchmark_version"`
	RuleNumber       string `json:"rule_number"`
	RuleID           string `json:"rule_id"`
}

// BulkActionRequest mutes or unmutes a set of rules.
// ExpectedVersion, when set, must match the stored settings version.
type BulkActionRequest struct {
	Action          BulkAction `json:"action"`
	Rules           []RuleRef  `json:"rules"`
	ExpectedVersion *int64     `json:"-"`
}

// BulkActionResult is returned after the rule states were persisted.
type BulkActionResult struct {
	UpdatedSettings        *CspSettings `json:"updated_settings"`
	DisabledDetectionRules int          `json:"disabled_detection_rules"`
	Warning                string       `json:"warning,omitempty"`
}
