package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
)

// RegisterCmd represents the register command
var RegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new version of a prompt",
	Long: `Register a new version of a prompt, making it the active version.

The first registration creates the prompt at version 1; every later one
appends the next version number. History is never rewritten.

Examples:
  promptlab register greeting --content "Hello {{name}}"
  promptlab register greeting --content-file greeting.txt --message "warmer tone"
  promptlab register greeting --content "Hi" --author alice --tag prod --tag onboarding`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

// GetCmd represents the get command
var GetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Fetch and render a prompt version",
	Long: `Fetch a prompt version and render its template.

Without --version the active version is returned. Without --var flags the
raw template is printed; with them, rendering is strict and fails on
unresolved placeholders.

Examples:
  promptlab get greeting
  promptlab get greeting --version 2
  promptlab get greeting --var name=Ada --var org.team=platform`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

// HistoryCmd represents the history command
var HistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show a prompt's version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

// RollbackCmd represents the rollback command
var RollbackCmd = &cobra.Command{
	Use:   "rollback <name> <version>",
	Short: "Move a prompt's active pointer to an earlier version",
	Long: `Move a prompt's active pointer to an existing version.

Rollback never deletes anything: later versions stay in the history, and the
next registration continues from the highest version ever issued.`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

// ListCmd represents the list command
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered prompts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	RegisterCmd.Flags().String("content", "", "Prompt content (template with {{placeholders}})")
	RegisterCmd.Flags().String("content-file", "", "Read prompt content from a file")
	RegisterCmd.Flags().String("author", "", "Author to attribute the version to")
	RegisterCmd.Flags().String("message", "", "Message describing the change")
	RegisterCmd.Flags().StringArray("tag", nil, "Tag for the prompt (repeatable, applies on first registration)")

	GetCmd.Flags().Int("version", 0, "Version to fetch (default: active version)")
	GetCmd.Flags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	GetCmd.Flags().Bool("json", false, "Output as JSON")

	HistoryCmd.Flags().Bool("json", false, "Output as JSON")
	ListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := args[0]
	content, _ := cmd.Flags().GetString("content")
	contentFile, _ := cmd.Flags().GetString("content-file")
	author, _ := cmd.Flags().GetString("author")
	message, _ := cmd.Flags().GetString("message")
	tags, _ := cmd.Flags().GetStringArray("tag")

	if contentFile != "" {
		data, err := os.ReadFile(contentFile)
		if err != nil {
			return fmt.Errorf("failed to read content file: %w", err)
		}
		content = string(data)
	}

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	v, err := reg.Register(name, content, ledger.RegisterOptions{
		Author:  author,
		Message: message,
		Tags:    tags,
	})
	if err != nil {
		return err
	}

	pterm.Success.Printf("Registered %s v%d\n", name, v.Version)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	version, _ := cmd.Flags().GetInt("version")
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

	v, content, err := reg.Get(name, version, variables)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"name":    name,
			"version": v.Version,
			"content": content,
		})
	}

	logger.Debugw("Resolved prompt", logger.FieldPrompt, name, logger.FieldVersion, v.Version)
	fmt.Println(content)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	name := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	history, err := reg.History(name)
	if err != nil {
		return err
	}
	activeVersion := 0
	if active, _, activeErr := reg.Get(name, 0, nil); activeErr == nil {
		activeVersion = active.Version
	}

	if jsonOutput {
		return printJSON(history)
	}

	rows := pterm.TableData{{"Version", "Created", "Author", "Message"}}
	for _, v := range history {
		marker := strconv.Itoa(v.Version)
		if v.Version == activeVersion {
			marker += " *"
		}
		rows = append(rows, []string{
			marker,
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.Author,
			v.Message,
		})
	}
	pterm.DefaultSection.Printf("History of %s (* = active)", name)
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runRollback(cmd *cobra.Command, args []string) error {
	name := args[0]
	version, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[1], err)
	}

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	v, err := reg.Rollback(name, version)
	if err != nil {
		return err
	}

	pterm.Success.Printf("Rolled back %s to v%d\n", name, v.Version)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	prompts := reg.List()

	if jsonOutput {
		return printJSON(prompts)
	}

	if len(prompts) == 0 {
		pterm.Info.Println("No prompts registered yet")
		return nil
	}

	rows := pterm.TableData{{"Name", "Active", "Versions", "Tags"}}
	for _, p := range prompts {
		rows = append(rows, []string{
			p.Name,
			fmt.Sprintf("v%d", p.ActiveVersion),
			strconv.Itoa(p.VersionCount),
			strings.Join(p.Tags, ", "),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
