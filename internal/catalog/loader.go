package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/metrics"
	"github.com/bcnelson/csp-rule-manager/internal/validation"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// LoadFile parses a JSON array of benchmark rules and validates each one.
func LoadFile(path string) ([]*domain.BenchmarkRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var rules []*domain.BenchmarkRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	var errs validation.ValidationErrors
	seen := make(map[string]int, len(rules))
	for i, rule := range rules {
		prefix := fmt.Sprintf("[%d]", i)
		if rule == nil {
			errs.Add(prefix, "", "rule must not be null")
			continue
		}
		validation.ValidateBenchmarkRule(prefix, rule, &errs)
		if first, dup := seen[rule.ID]; dup {
			errs.Add(prefix+".id", rule.ID, fmt.Sprintf("duplicate of [%d]", first))
			continue
		}
		seen[rule.ID] = i
	}
	if err := errs.Err(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// Seed upserts the rules in a single transaction.
func (c *Catalog) Seed(ctx context.Context, rules []*domain.BenchmarkRule) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rule := range rules {
		if err := tx.UpsertBenchmarkRule(ctx, rule); err != nil {
			return fmt.Errorf("storing rule %s: %w", rule.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.CatalogRules.Set(float64(len(rules)))
	c.logger.Info().Int("rules", len(rules)).Msg("catalog seeded")
	return nil
}

// SeedFile loads path and seeds its rules.
func (c *Catalog) SeedFile(ctx context.Context, path string) (int, error) {
	rules, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	if err := c.Seed(ctx, rules); err != nil {
		return 0, err
	}
	return len(rules), nil
}

// Watch re-seeds the catalog whenever path changes, until ctx is done.
// The parent directory is watched so that atomic replaces are seen.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		n, err := c.SeedFile(ctx, abs)
		if err != nil {
			c.logger.Error().Err(err).Str("path", abs).Msg("catalog reload failed")
			return
		}
		c.logger.Info().Str("path", abs).Int("rules", n).Msg("catalog reloaded")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn().Err(err).Msg("catalog watcher error")
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			}
		}
	}()

	c.logger.Info().Str("path", abs).Msg("watching catalog file")
	return nil
}
