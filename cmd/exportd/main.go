package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/exportd/am"
	"github.com/teranos/exportd/cmd/exportd/commands"
	"github.com/teranos/exportd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "exportd",
	Short: "exportd - scheduled warehouse extractions to CSV",
	Long: `exportd runs stored warehouse queries on a weekly schedule and writes
their results to CSV files.

Available commands:
  run       - Start the scheduler
  jobs      - Inspect and toggle extraction jobs
  eventual  - Queue one-shot extractions
  db        - Manage the job store
  am        - Show and validate configuration
  version   - Show build information

Examples:
  exportd run                 # Start the scheduler
  exportd run --workers 8     # Start with eight extraction workers
  exportd jobs ls             # List jobs and their bookkeeping
  exportd am show --format yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		level, jsonOutput := "info", false
		if cfg, err := am.Load(); err == nil {
			level, jsonOutput = cfg.Log.Level, cfg.Log.JSON
		}
		if err := logger.Initialize(jsonOutput, logger.VerbosityToLevelName(verbosity, level)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.EventualCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
