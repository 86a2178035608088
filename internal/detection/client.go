// Package detection locates and disables the external detection rules that
// alert on findings of a benchmark rule.
package detection

import (
	"context"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
)

// Client defines the interface for interacting with the detection rule service.
type Client interface {
	// FindRules returns at most perPage rules carrying every one of tags.
	FindRules(ctx context.Context, tags []string, perPage int) ([]domain.DetectionRuleRef, error)
	// BulkDisable disables the rules with the given ids and returns how many
	// were disabled.
	BulkDisable(ctx context.Context, ids []string) (int, error)
}
