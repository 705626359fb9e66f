package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// VariantCmd represents the variant command
var VariantCmd = &cobra.Command{
	Use:   "variant <prompt>",
	Short: "Resolve the variant a subject should see",
	Long: `Resolve which variant of a prompt a subject should see and render it.

With an active experiment the subject key is hashed onto a variant, so the
same subject always sees the same content. Without one, the active version
is served as the "default" variant. An empty subject key draws randomly.

Examples:
  promptlab variant greeting --subject user-42
  promptlab variant greeting --subject user-42 --var name=Ada`,
	Args: cobra.ExactArgs(1),
	RunE: runVariant,
}

// OutcomeCmd represents the outcome command
var OutcomeCmd = &cobra.Command{
	Use:   "outcome <prompt>",
	Short: "Record a trial outcome for the active experiment",
	Long: `Record one trial outcome against the active experiment on a prompt.

Outcomes are purely additive counters per variant. Optional --metric flags
feed numeric observations whose running averages appear in the results.

Examples:
  promptlab outcome greeting --variant a --success
  promptlab outcome greeting --variant b --metric latency_ms=120`,
	Args: cobra.ExactArgs(1),
	RunE: runOutcome,
}

func init() {
	VariantCmd.Flags().String("subject", "", "Stable subject key (user ID, session ID)")
	VariantCmd.Flags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	VariantCmd.Flags().Bool("json", false, "Output as JSON")

	OutcomeCmd.Flags().String("variant", "", "Variant the outcome belongs to")
	OutcomeCmd.Flags().Bool("success", false, "Mark the trial as successful")
	OutcomeCmd.Flags().StringArray("metric", nil, "Metric observation as name=value (repeatable)")
	OutcomeCmd.MarkFlagRequired("variant")
}

func runVariant(cmd *cobra.Command, args []string) error {
	promptName := args[0]
	subject, _ := cmd.Flags().GetString("subject")
	varFlags, _ := cmd.Flags().GetStringArray("var")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	variables, err := parseVariables(varFlags)
	if err != nil {
		return err
	}

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	sel, err := reg.GetVariant(promptName, subject, variables)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sel)
	}

	if sel.ExperimentID != "" {
		pterm.Info.Printf("Variant %q (v%d, experiment %s)\n", sel.Variant, sel.Version, sel.ExperimentID)
	} else {
		pterm.Info.Printf("No experiment running; serving v%d\n", sel.Version)
	}
	fmt.Println(sel.Content)
	return nil
}

func runOutcome(cmd *cobra.Command, args []string) error {
	promptName := args[0]
	variant, _ := cmd.Flags().GetString("variant")
	success, _ := cmd.Flags().GetBool("success")
	metricFlags, _ := cmd.Flags().GetStringArray("metric")

	metrics, err := parseFloatPairs(metricFlags, "metric")
	if err != nil {
		return err
	}

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.RecordOutcome(promptName, variant, success, metrics); err != nil {
		return err
	}

	pterm.Success.Printf("Outcome recorded for %s/%s\n", promptName, variant)
	return nil
}
