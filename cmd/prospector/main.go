package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prospector",
	Short: "Prospector - prospect analysis orchestrator",
	Long: `Prospector plans, prices and executes business intelligence collection
runs against remote scraping actors, keeping every run inside its budget.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.prospector/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(actorsCmd)
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
