package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/llm"
)

var modelsProvider string
var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models from a provider",
	Long: `List available models from a provider's models API.

Examples:
  skillshub models                       # list models from the configured provider
  skillshub models --provider openai     # list models from OpenAI
  skillshub models --json                # output as JSON`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	AddProviderFlag(modelsCmd, &modelsProvider)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name, _ := parseProviderFlag(modelsProvider)
	cfg.ApplyOverrides(name, "")

	providerCfg := cfg.ResolveProvider(cfg.Provider, config.ProviderOverrides{})
	provider, err := llm.NewProvider(providerCfg)
	if err != nil {
		return err
	}
	lister, ok := provider.(llm.ModelLister)
	if !ok {
		return fmt.Errorf("provider '%s' does not support model listing (supported: anthropic, openai)", cfg.Provider)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	models, err := lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return nil
	}

	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	fmt.Fprintf(out, "Available models from %s:\n\n", cfg.Provider)
	for _, m := range models {
		if m.DisplayName != "" {
			fmt.Fprintf(out, "  %s (%s)\n", m.ID, m.DisplayName)
		} else {
			fmt.Fprintf(out, "  %s\n", m.ID)
		}
	}
	fmt.Fprintf(out, "\nTo use a model, add to your config:\n")
	fmt.Fprintf(out, "  %s:\n    model: <model-name>\n", cfg.Provider)
	return nil
}
