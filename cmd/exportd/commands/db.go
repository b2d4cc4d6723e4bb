package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/exportd/db"
	"github.com/teranos/exportd/errors"
)

// DbCmd represents the db (job store) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job store",
	Long: `Manage the SQLite job store holding jobs, schedules, gating parameters,
eventual requests and run history.

Examples:
  exportd db migrate              # Apply pending migrations
  exportd db status               # Show applied migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbStatus,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

// runDbStatus serves both subcommands: opening the store migrates it.
func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return errors.Wrap(err, "failed to read applied migrations")
	}

	fmt.Printf("Job store: %s\n", cfg.GetDatabasePath())
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	for _, v := range versions {
		fmt.Printf("  ✓ %s\n", v)
	}
	fmt.Printf("%d migrations applied\n", len(versions))
	return nil
}
