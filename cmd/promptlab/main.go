package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptlab/promptlab/cmd/promptlab/commands"
	"github.com/promptlab/promptlab/config"
	"github.com/promptlab/promptlab/logger"
)

var rootCmd = &cobra.Command{
	Use:   "promptlab",
	Short: "promptlab - Versioned prompt registry with A/B experiments",
	Long: `promptlab - Versioned prompt registry with A/B experiments.

Prompts are versioned in an append-only ledger with rollback, and any prompt
can run an A/B experiment with sticky traffic assignment, streaming outcome
counters, and a two-proportion z-test to declare a winner.

Available commands:
  register   - Register a new version of a prompt
  get        - Fetch and render a prompt version
  variant    - Resolve the variant a subject should see
  outcome    - Record a trial outcome for the active experiment
  history    - Show a prompt's version history
  rollback   - Move a prompt's active pointer to an earlier version
  list       - List all registered prompts
  experiment - Create, analyze, and conclude experiments
  export     - Export the registry as a YAML snapshot
  import     - Import a YAML snapshot
  db         - Database operations

Examples:
  promptlab register greeting --content "Hello {{name}}"
  promptlab get greeting --var name=Ada
  promptlab experiment create greeting --variant a="Hi {{name}}" --variant b="Hey {{name}}"
  promptlab variant greeting --subject user-42
  promptlab outcome greeting --variant a --success
  promptlab experiment results greeting`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.Initialize(cfg.Log.JSON, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.RegisterCmd)
	rootCmd.AddCommand(commands.GetCmd)
	rootCmd.AddCommand(commands.VariantCmd)
	rootCmd.AddCommand(commands.OutcomeCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.RollbackCmd)
	rootCmd.AddCommand(commands.ListCmd)
	rootCmd.AddCommand(commands.ExperimentCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
