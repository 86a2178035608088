package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/rs/zerolog"
)

// FileShim is a local implementation that keeps detection rules in a JSON
// file. It is used for development and tests.
type FileShim struct {
	filePath string
	logger   zerolog.Logger
	mu       sync.Mutex
}

// Ensure FileShim implements Client.
var _ Client = (*FileShim)(nil)

// NewFileShim creates a new file-based shim.
func NewFileShim(filePath string, logger zerolog.Logger) *FileShim {
	return &FileShim{
		filePath: filePath,
		logger:   logger.With().Str("component", "detection_file_shim").Logger(),
	}
}

func (f *FileShim) load() ([]domain.DetectionRuleRef, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading detection rules file: %w", err)
	}
	var rules []domain.DetectionRuleRef
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing detection rules file: %w", err)
	}
	return rules, nil
}

func hasAllTags(rule domain.DetectionRuleRef, tags []string) bool {
	have := make(map[string]struct{}, len(rule.Tags))
	for _, t := range rule.Tags {
		have[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// FindRules returns rules from the file that carry every tag.
func (f *FileShim) FindRules(ctx context.Context, tags []string, perPage int) ([]domain.DetectionRuleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []domain.DetectionRuleRef
	for _, rule := range rules {
		if !hasAllTags(rule, tags) {
			continue
		}
		out = append(out, rule)
		if perPage > 0 && len(out) == perPage {
			break
		}
	}
	return out, nil
}

// BulkDisable marks the rules as disabled and rewrites the file.
func (f *FileShim) BulkDisable(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := f.load()
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	disabled := 0
	for i := range rules {
		if _, ok := want[rules[i].ID]; ok {
			rules[i].Enabled = false
			disabled++
		}
	}
	if disabled == 0 {
		return 0, nil
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling detection rules: %w", err)
	}
	if err := os.WriteFile(f.filePath, data, 0644); err != nil {
		return 0, fmt.Errorf("writing detection rules file: %w", err)
	}

	f.logger.Info().Int("disabled", disabled).Str("path", f.filePath).Msg("detection rules disabled")
	return disabled, nil
}
