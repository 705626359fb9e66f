package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/promptlab/promptlab/experiment"
)

// ExperimentCmd represents the experiment command
var ExperimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Create, analyze, and conclude A/B experiments",
	Long: `Create, analyze, and conclude A/B experiments on prompts.

An experiment splits a prompt's traffic between two or more content variants.
Subjects are assigned deterministically, so the same subject always sees the
same variant. Outcomes feed streaming counters, and a two-proportion z-test
declares a winner once the confidence threshold is met with enough samples.

Examples:
  promptlab experiment create greeting --variant a="Hi {{name}}" --variant b="Hey {{name}}"
  promptlab experiment create greeting --variant a=@a.txt --variant b=@b.txt --split a=70 --split b=30
  promptlab experiment results greeting
  promptlab experiment conclude greeting`,
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create <prompt>",
	Short: "Start an experiment on a prompt",
	Long: `Start an experiment on a prompt.

Each --variant value is inline content, or a file when prefixed with @.
Without --split flags traffic is divided equally. Variant contents are
registered as prompt versions, so a winner can later be rolled back to.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentCreate,
}

var experimentResultsCmd = &cobra.Command{
	Use:   "results <prompt>",
	Short: "Show the significance analysis for a prompt's experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentResults,
}

var experimentConcludeCmd = &cobra.Command{
	Use:   "conclude <prompt>",
	Short: "Conclude the active experiment, freezing its winner",
	Long: `Conclude the active experiment on a prompt.

A final analysis is run and its winner and confidence are frozen on the
experiment record. The winner stays empty when significance was never
reached. Concluded experiments accept no further traffic or outcomes.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentConclude,
}

func init() {
	ExperimentCmd.AddCommand(experimentCreateCmd)
	ExperimentCmd.AddCommand(experimentResultsCmd)
	ExperimentCmd.AddCommand(experimentConcludeCmd)

	experimentCreateCmd.Flags().StringArray("variant", nil, "Variant as name=content or name=@file (repeatable, at least two)")
	experimentCreateCmd.Flags().StringArray("split", nil, "Traffic weight as name=weight (repeatable)")
	experimentCreateCmd.Flags().String("metric", "", "Name of the numeric success metric to average")

	experimentResultsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runExperimentCreate(cmd *cobra.Command, args []string) error {
	promptName := args[0]
	variantFlags, _ := cmd.Flags().GetStringArray("variant")
	splitFlags, _ := cmd.Flags().GetStringArray("split")
	metric, _ := cmd.Flags().GetString("metric")

	variants, err := parseStringPairs(variantFlags, "variant")
	if err != nil {
		return err
	}
	variants, err = resolveVariantContents(variants)
	if err != nil {
		return err
	}
	split, err := parseFloatPairs(splitFlags, "split")
	if err != nil {
		return err
	}

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	exp, err := reg.CreateExperiment(promptName, variants, split, metric)
	if err != nil {
		return err
	}

	pterm.Success.Printf("Experiment %s created on %s\n", exp.ID, promptName)
	for _, name := range exp.VariantNames() {
		v := exp.Variants[name]
		pterm.Printf("  %s -> v%d (weight %g)\n", name, v.Version, v.Weight)
	}
	return nil
}

func runExperimentResults(cmd *cobra.Command, args []string) error {
	promptName := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	res, err := reg.Results(promptName)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(res)
	}

	printResults(res)
	return nil
}

func runExperimentConclude(cmd *cobra.Command, args []string) error {
	promptName := args[0]

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	exp, res, err := reg.ConcludeExperiment(promptName)
	if err != nil {
		return err
	}

	if exp.Winner != "" {
		pterm.Success.Printf("Experiment %s concluded: winner %q at %.1f%% confidence\n",
			exp.ID, exp.Winner, exp.Confidence*100)
		winning := exp.Variants[exp.Winner]
		pterm.Info.Printf("Promote it with: promptlab rollback %s %d\n", promptName, winning.Version)
	} else {
		pterm.Warning.Printf("Experiment %s concluded without a winner (confidence %.1f%%)\n",
			exp.ID, exp.Confidence*100)
	}
	printResults(res)
	return nil
}

// resolveVariantContents replaces @file values with the file's contents.
func resolveVariantContents(variants map[string]string) (map[string]string, error) {
	for name, content := range variants {
		if !strings.HasPrefix(content, "@") {
			continue
		}
		data, err := os.ReadFile(content[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read variant %q content file: %w", name, err)
		}
		variants[name] = string(data)
	}
	return variants, nil
}

func printResults(res *experiment.Results) {
	pterm.DefaultSection.Printf("Results for %s", res.PromptName)

	names := make([]string, 0, len(res.Variants))
	for name := range res.Variants {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := pterm.TableData{{"Variant", "Trials", "Successes", "Rate", "Avg Metric"}}
	for _, name := range names {
		vr := res.Variants[name]
		avg := "-"
		if vr.AvgMetric != nil {
			avg = fmt.Sprintf("%.2f", *vr.AvgMetric)
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(vr.Trials),
			strconv.Itoa(vr.Successes),
			fmt.Sprintf("%.2f%%", vr.SuccessRate*100),
			avg,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		pterm.Error.Printf("Failed to render table: %v\n", err)
	}

	pterm.Println()
	pterm.Printf("Total trials: %d\n", res.TotalTrials)
	pterm.Printf("Confidence:   %.1f%%\n", res.Confidence*100)
	if res.Lift != 0 {
		pterm.Printf("Lift:         %+.1f%%\n", res.Lift)
	}
	if res.Winner != "" {
		pterm.Success.Printf("Winner: %s\n", res.Winner)
	} else {
		pterm.Info.Println("No winner yet")
	}
}
