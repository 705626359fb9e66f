package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptlab/promptlab/config"
	"github.com/promptlab/promptlab/db"
	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the promptlab database",
	Long: `Manage the promptlab SQLite database.

Examples:
  promptlab db stats    # Show prompt, version and experiment counts`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display prompt, version, experiment and outcome counts from the SQLite backend",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.BackendKind() != config.BackendSQLite {
		return errors.Newf("db stats requires the sqlite backend, configured backend is %q", cfg.BackendKind())
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	var prompts, versions int
	err = database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM prompts),
			(SELECT COUNT(*) FROM prompt_versions)
	`).Scan(&prompts, &versions)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query prompt stats: %w", err)
	}

	var activeExperiments, concludedExperiments, totalTrials int
	err = database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM experiments WHERE status = 'active'),
			(SELECT COUNT(*) FROM experiments WHERE status = 'concluded'),
			(SELECT COALESCE(SUM(trials), 0) FROM variant_stats)
	`).Scan(&activeExperiments, &concludedExperiments, &totalTrials)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query experiment stats: %w", err)
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:         %s\n", cfg.Database.Path)
	fmt.Printf("Prompts:               %d\n", prompts)
	fmt.Printf("Prompt Versions:       %d\n", versions)
	fmt.Printf("Active Experiments:    %d\n", activeExperiments)
	fmt.Printf("Concluded Experiments: %d\n", concludedExperiments)
	fmt.Printf("Recorded Trials:       %d\n", totalTrials)

	return nil
}
