package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "csp-rule-manager",
	Short:         "Mute and unmute benchmark rules and keep detection rules in step.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedRulesCmd, rulesCmd)
}
