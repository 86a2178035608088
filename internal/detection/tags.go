package detection

import (
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
)

const (
	tagCloudSecurity    = "Cloud Security"
	tagUseCase          = "Use Case: Configuration Audit"
	tagDataSourcePrefix = "Data Source: "
	tagDomainCloud      = "Domain: Cloud"
	tagDomainContainer  = "Domain: Container"

	tagsField = "alert.attributes.tags"
)

// SearchTags returns the tags that link a benchmark rule to its detection
// rule, e.g. cis_gcp rule 1.1 yields ["CIS", "GCP", "CIS GCP 1.1"].
func SearchTags(meta domain.BenchmarkRuleMetadata) []string {
	id := meta.Benchmark.ID
	parts := strings.Split(id, "_")
	tags := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		tags = append(tags, strings.ToUpper(p))
	}
	ruleTag := strings.ToUpper(strings.Replace(id, "_", " ", 1)) + " " + meta.Benchmark.RuleNumber
	return append(tags, ruleTag)
}

// GenerateTags returns the full tag set a detection rule created for the
// benchmark rule carries.
func GenerateTags(meta domain.BenchmarkRuleMetadata) []string {
	tags := []string{tagCloudSecurity, tagUseCase}
	tags = append(tags, SearchTags(meta)...)

	posture := meta.Benchmark.PostureType
	if posture != "" {
		upper := strings.ToUpper(string(posture))
		tags = append(tags, upper, tagDataSourcePrefix+upper)
	}
	if posture == domain.PostureCSPM {
		tags = append(tags, tagDomainCloud)
	} else {
		tags = append(tags, tagDomainContainer)
	}
	return tags
}

// TagsToKQL builds a filter that matches rules carrying all of the tags.
func TagsToKQL(tags []string) string {
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
	}
	return tagsField + ":(" + strings.Join(quoted, " AND ") + ")"
}
