package detection

import (
	"testing"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/stretchr/testify/assert"
)

func meta(id, ruleNumber string, posture domain.PostureType) domain.BenchmarkRuleMetadata {
	return domain.BenchmarkRuleMetadata{
		Benchmark: domain.Benchmark{ID: id, RuleNumber: ruleNumber, PostureType: posture},
	}
}

func TestSearchTags(t *testing.T) {
	assert.Equal(t, []string{"CIS", "GCP", "CIS GCP 1.1"}, SearchTags(meta("cis_gcp", "1.1", "")))
	// Only the first underscore becomes a space in the rule tag.
	assert.Equal(t, []string{"CIS", "AZURE", "V2", "CIS AZURE_V2 3.4"}, SearchTags(meta("cis_azure_v2", "3.4", "")))
}

func TestGenerateTags(t *testing.T) {
	tests := []struct {
		name string
		meta domain.BenchmarkRuleMetadata
		want []string
	}{
		{
			name: "kspm",
			meta: meta("cis_k8s", "1.1", domain.PostureKSPM),
			want: []string{
				"Cloud Security", "Use Case: Configuration Audit",
				"CIS", "K8S", "CIS K8S 1.1",
				"KSPM", "Data Source: KSPM",
				"Domain: Container",
			},
		},
		{
			name: "cspm",
			meta: meta("cis_aws", "2.3", domain.PostureCSPM),
			want: []string{
				"Cloud Security", "Use Case: Configuration Audit",
				"CIS", "AWS", "CIS AWS 2.3",
				"CSPM", "Data Source: CSPM",
				"Domain: Cloud",
			},
		},
		{
			name: "no posture",
			meta: meta("cis_eks", "4.1", ""),
			want: []string{
				"Cloud Security", "Use Case: Configuration Audit",
				"CIS", "EKS", "CIS EKS 4.1",
				"Domain: Container",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateTags(tt.meta))
		})
	}
}

func TestTagsToKQL(t *testing.T) {
	got := TagsToKQL([]string{"CIS", "Data Source: KSPM"})
	assert.Equal(t, `alert.attributes.tags:("CIS" AND "Data Source: KSPM")`, got)
}
