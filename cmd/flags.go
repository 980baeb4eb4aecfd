package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/llm"
	"github.com/samsaffron/skillshub/internal/tools"
)

// AddProviderFlag adds the --provider/-p flag with completion
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "provider", "p", "", "Provider, optionally with model (e.g., openai:gpt-4o)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddModelFlag adds the --model flag
func AddModelFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVar(dest, "model", "", "Model name (overrides config)")
}

// AddAllowFlag adds the --allow flag listing granted tool permissions
func AddAllowFlag(cmd *cobra.Command, dest *[]string) {
	cmd.Flags().StringSliceVar(dest, "allow", nil, "Grant tool permissions (comma-separated, or 'all'): createFolder,createFile,editFile,deleteFile")
	if err := cmd.RegisterFlagCompletionFunc("allow", PermissionFlagCompletion); err != nil {
		panic("failed to register allow completion: " + err.Error())
	}
}

// AddWorkspaceFlag adds the --workspace/-w flag
func AddWorkspaceFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "workspace", "w", "", "Directory relative tool paths resolve against")
}

// AddMaxIterationsFlag adds the --max-iterations flag
func AddMaxIterationsFlag(cmd *cobra.Command, dest *int) {
	cmd.Flags().IntVar(dest, "max-iterations", 0, "Max provider calls per request (0 uses config)")
}

// AddSystemMessageFlag adds the --system/-m flag
func AddSystemMessageFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "system", "m", "", "System prompt (overrides config)")
}

// ProviderFlagCompletion completes provider names.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, name := range llm.ProviderNames() {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// PermissionFlagCompletion completes permission names.
func PermissionFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return append(tools.PermissionNames(), "all"), cobra.ShellCompDirectiveNoFileComp
}

// parseProviderFlag splits "provider:model".
func parseProviderFlag(flag string) (provider, model string) {
	provider, model, _ = strings.Cut(strings.TrimSpace(flag), ":")
	return provider, model
}
