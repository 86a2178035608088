package domain

// DetectionRuleRef points at an externally managed detection rule.
type DetectionRuleRef struct {
	ID      string   `json:"id"`
	RuleID  string   `json:"rule_id,omitempty"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Tags    []string `json:"tags"`
}
