package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/skillshub/internal/tools"
)

var (
	toolsAllow []string
	toolsJSON  bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog advertised for a permission set",
	Long: `Print the tool schemas a provider would receive. read_file and
list_files are always present; the mutating tools need --allow.

Examples:
  skillshub tools
  skillshub tools --allow createFile,editFile
  skillshub tools --allow all --json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	AddAllowFlag(toolsCmd, &toolsAllow)
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	perms, err := tools.ParsePermissions(toolsAllow)
	if err != nil {
		return err
	}
	schemas := toolSchemas(tools.DefaultRegistry().ListTools(perms))

	out := cmd.OutOrStdout()
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(schemas); err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	return enc.Close()
}
