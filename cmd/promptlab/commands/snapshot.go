package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/promptlab/promptlab/config"
)

// ExportCmd represents the export command
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the registry as a YAML snapshot",
	Long: `Export every prompt with its full version history, current experiment and
outcome counters as one YAML document. The snapshot is lossless: importing
it into an empty registry reproduces the exported state.

Examples:
  promptlab export                      # Write to stdout
  promptlab export --output backup.yaml`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

// ImportCmd represents the import command
var ImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML snapshot",
	Long: `Import a YAML snapshot produced by export.

Prompts named in the snapshot replace any existing record of the same name;
other prompts are untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	ExportCmd.Flags().StringP("output", "o", "", "Write the snapshot to a file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	if output == "" {
		return reg.ExportYAML(os.Stdout)
	}

	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := reg.ExportYAML(f); err != nil {
		return err
	}
	pterm.Success.Printf("Exported registry to %s\n", output)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.ImportYAML(f); err != nil {
		return err
	}

	pterm.Success.Printf("Imported snapshot from %s\n", path)
	return nil
}
