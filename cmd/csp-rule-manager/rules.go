package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Change benchmark rule states from the command line.",
}

func newRuleActionCmd(action domain.BulkAction, short string) *cobra.Command {
	var ruleIDs []string
	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleAction(cmd.Context(), cmd.OutOrStdout(), action, ruleIDs)
		},
	}
	cmd.Flags().StringSliceVar(&ruleIDs, "rule-id", nil, "benchmark rule id (repeatable)")
	_ = cmd.MarkFlagRequired("rule-id")
	return cmd
}

func init() {
	rulesCmd.AddCommand(
		newRuleActionCmd(domain.ActionMute, "Mute benchmark rules and disable their detection rules."),
		newRuleActionCmd(domain.ActionUnmute, "Unmute benchmark rules."),
	)
}

// refsFromCatalog builds the bulk action references for catalog rules.
func refsFromCatalog(rules []*domain.BenchmarkRule) []domain.RuleRef {
	refs := make([]domain.RuleRef, len(rules))
	for i, rule := range rules {
		b := rule.Metadata.Benchmark
		refs[i] = domain.RuleRef{
			BenchmarkID:      b.ID,
			BenchmarkVersion: b.Version,
			RuleNumber:       b.RuleNumber,
			RuleID:           rule.ID,
		}
	}
	return refs
}

func runRuleAction(ctx context.Context, out io.Writer, action domain.BulkAction, ruleIDs []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.catalog.Resolve(ctx, ruleIDs)
	if err != nil {
		return err
	}

	result, err := a.service.BulkSetRuleState(ctx, domain.BulkActionRequest{
		Action: action,
		Rules:  refsFromCatalog(rules),
	})
	if err != nil {
		var syncErr *domain.SynchronizationError
		if !errors.As(err, &syncErr) || result == nil {
			return err
		}
		a.logger.Warn().Err(err).Msg("rule states saved, detection rules not fully disabled")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}
