package domain

import "time"

// PostureType classifies a benchmark.
type PostureType string

const (
	PostureCSPM PostureType = "cspm"
	PostureKSPM PostureType = "kspm"
)

// Benchmark identifies the benchmark a rule belongs to.
type Benchmark struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	RuleNumber  string      `json:"rule_number,omitempty"`
	PostureType PostureType `json:"posture_type,omitempty"`
}

// BenchmarkRuleMetadata is the descriptive part of a benchmark rule.
type BenchmarkRuleMetadata struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Section              string    `json:"section"`
	Version              string    `json:"version"`
	Audit                string    `json:"audit,omitempty"`
	Description          string    `json:"description,omitempty"`
	Rationale            string    `json:"rationale,omitempty"`
	Remediation          string    `json:"remediation,omitempty"`
	Impact               string    `json:"impact,omitempty"`
	DefaultValue         string    `json:"default_value,omitempty"`
	References           string    `json:"references,omitempty"`
	ProfileApplicability string    `json:"profile_applicability,omitempty"`
	RegoRuleID           string    `json:"rego_rule_id,omitempty"`
	Tags                 []string  `json:"tags,omitempty"`
	Benchmark            Benchmark `json:"benchmark"`
}

// BenchmarkRule is one compliance rule in the catalog. ID is the persisted
// object identifier that callers refer to as rule_id.
type BenchmarkRule struct {
	ID        string                `json:"id"`
	Metadata  BenchmarkRuleMetadata `json:"metadata"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// RuleLookup is the per-id outcome of a bulk catalog fetch.
type RuleLookup struct {
	ID   string
	Rule *BenchmarkRule
	Err  error
}

// Found reports whether the lookup resolved to a rule.
func (l RuleLookup) Found() bool {
	return l.Err == nil && l.Rule != nil
}

// Sort fields accepted by FindRulesRequest.
const (
	SortByName        = "metadata.name"
	SortBySection     = "metadata.section"
	SortByID          = "metadata.id"
	SortByVersion     = "metadata.version"
	SortByBenchmarkID = "metadata.benchmark.id"
	SortByBenchmark   = "metadata.benchmark.name"
	SortByPostureType = "metadata.benchmark.posture_type"
	SortByBenchmarkV  = "metadata.benchmark.version"
	SortByRuleNumber  = "metadata.benchmark.rule_number"

	DefaultRulesPerPage = 25
)

// FindRulesRequest filters and pages the benchmark rule catalog.
type FindRulesRequest struct {
	Search      string `json:"search,omitempty"`
	BenchmarkID string `json:"benchmark_id,omitempty"`
	Section     string `json:"section,omitempty"`
	SortField   string `json:"sort_field,omitempty"`
	SortOrder   string `json:"sort_order,omitempty"`
	Page        int    `json:"page"`
	PerPage     int    `json:"per_page"`
}

// FindRulesResponse is a page of benchmark rules.
type FindRulesResponse struct {
	Items   []*BenchmarkRule `json:"items"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// RulesStatus counts the rules of a benchmark by mute state.
type RulesStatus struct {
	All     int `json:"all"`
	Muted   int `json:"muted"`
	Unmuted int `json:"unmuted"`
}

// BenchmarkSummary describes one benchmark version present in the catalog.
type BenchmarkSummary struct {
	ID          string      `json:"id" db:"benchmark_id"`
	Name        string      `json:"name" db:"benchmark_name"`
	Version     string      `json:"version" db:"benchmark_version"`
	PostureType PostureType `json:"posture_type,omitempty" db:"posture_type"`
	Rules       RulesStatus `json:"rules" db:"-"`
}
