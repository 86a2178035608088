// Package validation checks benchmark rule references and catalog queries
// before they reach the service layer.
package validation

import (
	"fmt"
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/rulekey"
)

// MaxBulkRules bounds the number of rules in one bulk action.
const MaxBulkRules = 1000

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// ValidateBenchmarkID validates a benchmark id such as "cis_k8s".
// Ids start with a letter and contain only letters, digits or underscores.
func ValidateBenchmarkID(id string) error {
	if id == "" {
		return fmt.Errorf("benchmark id must not be empty")
	}
	if !isAlpha(id[0]) {
		return fmt.Errorf("benchmark id must start with a letter")
	}
	for _, b := range []byte(id) {
		if !isAlpha(b) && !isNum(b) && b != '_' {
			return fmt.Errorf("benchmark id can only contain letters, numbers, or underscores")
		}
	}
	return nil
}

// ValidateBenchmarkVersion validates a benchmark version such as "v1.0.1".
func ValidateBenchmarkVersion(version string) error {
	if version == "" {
		return fmt.Errorf("benchmark version must not be empty")
	}
	if strings.ContainsAny(version, rulekey.Separator+" \t\n") {
		return fmt.Errorf("benchmark version must not contain whitespace or %q", rulekey.Separator)
	}
	return nil
}

// ValidateRuleNumber validates a rule number such as "1.1.1".
// Rule numbers contain letters, digits, dots or hyphens.
func ValidateRuleNumber(number string) error {
	if number == "" {
		return fmt.Errorf("rule number must not be empty")
	}
	for _, b := range []byte(number) {
		if !isAlpha(b) && !isNum(b) && b != '.' && b != '-' {
			return fmt.Errorf("rule number can only contain letters, numbers, dots, or hyphens")
		}
	}
	return nil
}

// ValidateRuleID validates the persisted identifier of a benchmark rule.
func ValidateRuleID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if strings.ContainsAny(id, " \t\n/") {
		return fmt.Errorf("rule id must not contain whitespace or '/'")
	}
	return nil
}

// ValidateRuleRef validates every field of a rule reference. The field
// prefix is used to locate the reference in the request body.
func ValidateRuleRef(prefix string, ref domain.RuleRef, errs *ValidationErrors) {
	if err := ValidateBenchmarkID(ref.BenchmarkID); err != nil {
		errs.Add(prefix+".benchmark_id", ref.BenchmarkID, err.Error())
	}
	if err := ValidateBenchmarkVersion(ref.BenchmarkVersion); err != nil {
		errs.Add(prefix+".benchmark_version", ref.BenchmarkVersion, err.Error())
	}
	if err := ValidateRuleNumber(ref.RuleNumber); err != nil {
		errs.Add(prefix+".rule_number", ref.RuleNumber, err.Error())
	}
	if err := ValidateRuleID(ref.RuleID); err != nil {
		errs.Add(prefix+".rule_id", ref.RuleID, err.Error())
	}
}

// ValidateBulkActionRequest validates the shape of a bulk action request.
// It does not check that the rules exist.
func ValidateBulkActionRequest(req *domain.BulkActionRequest) error {
	var errs ValidationErrors

	if _, err := req.Action.Muted(); err != nil {
		errs.Add("action", string(req.Action), "action must be one of: mute, unmute")
	}
	if len(req.Rules) == 0 {
		errs.Add("rules", "", "at least one rule is required")
	}
	if len(req.Rules) > MaxBulkRules {
		errs.Add("rules", fmt.Sprint(len(req.Rules)), fmt.Sprintf("at most %d rules are allowed", MaxBulkRules))
	}

	seen := make(map[string]int, len(req.Rules))
	for i, ref := range req.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		ValidateRuleRef(prefix, ref, &errs)
		if first, dup := seen[ref.RuleID]; dup && ref.RuleID != "" {
			errs.Add(prefix+".rule_id", ref.RuleID, fmt.Sprintf("duplicate of rules[%d]", first))
			continue
		}
		seen[ref.RuleID] = i
	}

	return errs.Err()
}

var sortFields = map[string]bool{
	domain.SortByName:        true,
	domain.SortBySection:     true,
	domain.SortByID:          true,
	domain.SortByVersion:     true,
	domain.SortByBenchmarkID: true,
	domain.SortByBenchmark:   true,
	domain.SortByPostureType: true,
	domain.SortByBenchmarkV:  true,
	domain.SortByRuleNumber:  true,
}

// NormalizeFindRulesRequest applies defaults and validates a catalog query.
func NormalizeFindRulesRequest(req *domain.FindRulesRequest) error {
	var errs ValidationErrors

	if req.Page == 0 {
		req.Page = 1
	}
	if req.Page < 1 {
		errs.Add("page", fmt.Sprint(req.Page), "page must be at least 1")
	}
	if req.PerPage == 0 {
		req.PerPage = domain.DefaultRulesPerPage
	}
	if req.PerPage < 0 {
		errs.Add("per_page", fmt.Sprint(req.PerPage), "per_page must not be negative")
	}
	if req.SortField == "" {
		req.SortField = domain.SortByRuleNumber
	}
	if !sortFields[req.SortField] {
		errs.Add("sort_field", req.SortField, "unsupported sort field")
	}
	req.SortOrder = strings.ToLower(req.SortOrder)
	if req.SortOrder == "" {
		req.SortOrder = "asc"
	}
	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		errs.Add("sort_order", req.SortOrder, "sort order must be asc or desc")
	}
	if req.BenchmarkID != "" {
		if err := ValidateBenchmarkID(req.BenchmarkID); err != nil {
			errs.Add("benchmark_id", req.BenchmarkID, err.Error())
		}
	}

	return errs.Err()
}

// ValidateBenchmarkRule validates a catalog rule definition before it is
// stored. Posture type, when present, must be cspm or kspm.
func ValidateBenchmarkRule(prefix string, rule *domain.BenchmarkRule, errs *ValidationErrors) {
	b := rule.Metadata.Benchmark
	ValidateRuleRef(prefix, domain.RuleRef{
		BenchmarkID:      b.ID,
		BenchmarkVersion: b.Version,
		RuleNumber:       b.RuleNumber,
		RuleID:           rule.ID,
	}, errs)
	if strings.TrimSpace(rule.Metadata.Name) == "" {
		errs.Add(prefix+".metadata.name", rule.Metadata.Name, "rule name must not be empty")
	}
	switch b.PostureType {
	case "", domain.PostureCSPM, domain.PostureKSPM:
	default:
		errs.Add(prefix+".metadata.benchmark.posture_type", string(b.PostureType), "posture type must be cspm or kspm")
	}
}
