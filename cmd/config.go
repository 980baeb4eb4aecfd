package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/llm"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit skillshub configuration",
	Long: `Show the effective configuration (API keys masked) or edit the
config file.

Examples:
  skillshub config                                  # show effective settings
  skillshub config path                             # print config file path
  skillshub config set orchestrator.max_iterations 5
  skillshub config set anthropic.model claude-3-5-sonnet-20241022`,
	Args: cobra.NoArgs,
	RunE: configShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Args:  cobra.NoArgs,
	RunE:  configPath,
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Long:              `Set a configuration value while preserving comments.`,
	Args:              cobra.ExactArgs(2),
	RunE:              configSet,
	ValidArgsFunction: configKeyCompletion,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.ConfigFile != "" {
		fmt.Fprintf(out, "# %s\n", cfg.ConfigFile)
	} else {
		path, _ := config.GetConfigPath()
		fmt.Fprintf(out, "# %s (not found, showing defaults)\n", path)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(effectiveSettings(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// effectiveSettings renders cfg with config-file key names and masked keys.
func effectiveSettings(cfg *config.Config) map[string]any {
	providers := map[string]any{}
	for _, name := range llm.ProviderNames() {
		p, _ := cfg.ProviderSection(name)
		section := map[string]any{
			"model":    p.Model,
			"base_url": p.BaseURL,
			"api_key":  maskKey(p.APIKey),
		}
		if p.MaxTokens > 0 {
			section["max_tokens"] = p.MaxTokens
		}
		if p.ImplicitCompletion != nil {
			section["implicit_completion"] = *p.ImplicitCompletion
		}
		if p.Version != "" {
			section["version"] = p.Version
		}
		providers[name] = section
	}

	settings := map[string]any{
		"provider": cfg.Provider,
		"server": map[string]any{
			"host":          cfg.Server.Host,
			"port":          cfg.Server.Port,
			"allow_origins": cfg.Server.AllowOrigins,
			"workspace":     cfg.Server.Workspace,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"orchestrator": map[string]any{
			"max_iterations": cfg.Orchestrator.MaxIterations,
		},
		"tools": map[string]any{
			"create_file_mode": cfg.Tools.CreateFileMode,
			"deny":             cfg.Tools.Deny,
		},
		"audit": map[string]any{
			"enabled": cfg.Audit.Enabled,
			"path":    cfg.Audit.Path,
		},
	}
	for name, section := range providers {
		settings[name] = section
	}
	if cfg.SystemPrompt != "" {
		settings["system_prompt"] = cfg.SystemPrompt
	}
	return settings
}

func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "…" + key[len(key)-4:]
	}
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if !knownConfigKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	doc, err := readConfigDocument(path)
	if err != nil {
		return err
	}
	if err := setYAMLValue(doc, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

// readConfigDocument parses the config file as a node tree, or returns an
// empty mapping document when the file is missing or blank.
func readConfigDocument(path string) (*yaml.Node, error) {
	empty := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return empty, nil
	}
	return &doc, nil
}

// setYAMLValue writes value at path, creating intermediate mappings.
// Comments on untouched nodes survive.
func setYAMLValue(doc *yaml.Node, path []string, value string) error {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}
	node := doc.Content[0]
	for _, key := range path[:len(path)-1] {
		child := mappingChild(node, key)
		switch {
		case child == nil:
			child = &yaml.Node{Kind: yaml.MappingNode}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
		case child.Kind != yaml.MappingNode:
			*child = yaml.Node{Kind: yaml.MappingNode}
		}
		node = child
	}

	leaf := path[len(path)-1]
	if child := mappingChild(node, leaf); child != nil {
		*child = yaml.Node{Kind: yaml.ScalarNode, Value: value, LineComment: child.LineComment}
		return nil
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: leaf},
		&yaml.Node{Kind: yaml.ScalarNode, Value: value},
	)
	return nil
}

func mappingChild(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

var configKeys = []string{
	"provider",
	"server.host",
	"server.port",
	"server.workspace",
	"log.level",
	"log.format",
	"orchestrator.max_iterations",
	"tools.create_file_mode",
	"audit.enabled",
	"audit.path",
	"anthropic.version",
	"system_prompt",
}

// allConfigKeys lists the settable keys, provider sections included.
func allConfigKeys() []string {
	keys := append([]string(nil), configKeys...)
	for _, name := range llm.ProviderNames() {
		keys = append(keys, name+".model", name+".base_url", name+".api_key", name+".max_tokens", name+".implicit_completion")
	}
	return keys
}

func knownConfigKey(key string) bool {
	for _, k := range allConfigKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func configKeyCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, k := range allConfigKeys() {
		if strings.HasPrefix(k, toComplete) {
			out = append(out, k)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
