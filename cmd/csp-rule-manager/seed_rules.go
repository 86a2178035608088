package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var seedRulesFile string

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Load benchmark rules from a JSON file into the catalog.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeedRules(cmd.Context(), seedRulesFile)
	},
}

func init() {
	seedRulesCmd.Flags().StringVar(&seedRulesFile, "file", "", "path to a JSON array of benchmark rules (defaults to CATALOG_FILE)")
}

func runSeedRules(ctx context.Context, path string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if path == "" {
		path = a.cfg.Catalog.File
	}
	if path == "" {
		return fmt.Errorf("--file or CATALOG_FILE is required")
	}

	n, err := a.catalog.SeedFile(ctx, path)
	if err != nil {
		return err
	}
	a.logger.Info().Str("path", path).Int("rules", n).Msg("seeded benchmark rules")
	return nil
}
